package database

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkspaceAssignment grants a principal explicit use of a connection they
// do not own.
type WorkspaceAssignment struct {
	Model
	ConnectionID uint                `json:"-" gorm:"uniqueIndex:idx_assignment_pair;not null"`
	Connection   WorkspaceConnection `json:"-" gorm:"foreignKey:ConnectionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	UserID       uint                `json:"-" gorm:"uniqueIndex:idx_assignment_pair;not null"`
	User         User                `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	AssignedByID uint                `json:"-"`
}

var ErrSelfAssignment = errors.New("connection already belongs to this user")

// AssignConnection records the assignment; assigning twice is a no-op.
func AssignConnection(DB *gorm.DB, conn *WorkspaceConnection, userID uint, assignedBy uint) error {
	if conn.UserID == userID {
		return ErrSelfAssignment
	}
	if conn.IsArchived {
		return ErrConnectionArchived
	}
	assignment := WorkspaceAssignment{
		ConnectionID: conn.ID,
		UserID:       userID,
		AssignedByID: assignedBy,
	}
	return DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&assignment).Error
}

func UnassignConnection(DB *gorm.DB, connectionID uint, userID uint) error {
	return DB.Unscoped().
		Where("connection_id = ? AND user_id = ?", connectionID, userID).
		Delete(&WorkspaceAssignment{}).Error
}

func IsAssigned(DB *gorm.DB, connectionID uint, userID uint) (bool, error) {
	var count int64
	err := DB.Model(&WorkspaceAssignment{}).
		Where("connection_id = ? AND user_id = ?", connectionID, userID).
		Count(&count).Error
	return count > 0, err
}
