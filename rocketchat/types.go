package rocketchat

// Session is an authenticated remote identity. It is passed to every
// authenticated call instead of being kept on the Client.
type Session struct {
	Token  string
	UserID string
}

func (s Session) Valid() bool {
	return s.Token != "" && s.UserID != ""
}

type envelope struct {
	Success *bool  `json:"success,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	Status string `json:"status"`
	Data   struct {
		AuthToken string `json:"authToken"`
		UserID    string `json:"userId"`
	} `json:"data"`
}

type Channel struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	FName      string `json:"fname,omitempty"`
	Type       string `json:"t"`
	UsersCount int    `json:"usersCount"`
}

type Emoji struct {
	ID        string   `json:"_id"`
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases"`
	Extension string   `json:"extension"`
}

type User struct {
	ID       string   `json:"_id"`
	Username string   `json:"username"`
	Name     string   `json:"name"`
	Status   string   `json:"status,omitempty"`
	Active   bool     `json:"active"`
	Roles    []string `json:"roles,omitempty"`
	Emails   []struct {
		Address  string `json:"address"`
		Verified bool   `json:"verified"`
	} `json:"emails,omitempty"`
}

type Role struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Scope       string `json:"scope"`
	Description string `json:"description"`
	Protected   bool   `json:"protected"`
}

// NewUser is the payload for CreateUser. Password is sent once and never logged.
type NewUser struct {
	Email                 string   `json:"email"`
	Name                  string   `json:"name"`
	Username              string   `json:"username"`
	Password              string   `json:"password"`
	Roles                 []string `json:"roles,omitempty"`
	Active                bool     `json:"active"`
	JoinDefaultChannels   bool     `json:"joinDefaultChannels"`
	RequirePasswordChange bool     `json:"requirePasswordChange"`
	SendWelcomeEmail      bool     `json:"sendWelcomeEmail"`
	Verified              bool     `json:"verified"`
}

// PostedMessage confirms a delivered message.
type PostedMessage struct {
	ID      string `json:"_id"`
	RoomID  string `json:"rid"`
	Text    string `json:"msg"`
	Channel string `json:"-"`
}

type postMessageRequest struct {
	RoomID  string `json:"roomId,omitempty"`
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

type postMessageResponse struct {
	Channel string        `json:"channel"`
	Message PostedMessage `json:"message"`
}

type channelsResponse struct {
	Channels []Channel `json:"channels"`
	Count    int       `json:"count"`
	Offset   int       `json:"offset"`
	Total    int       `json:"total"`
}

type usersResponse struct {
	Users  []User `json:"users"`
	Count  int    `json:"count"`
	Offset int    `json:"offset"`
	Total  int    `json:"total"`
}

type userResponse struct {
	User User `json:"user"`
}

type emojisResponse struct {
	Emojis struct {
		Update []Emoji `json:"update"`
	} `json:"emojis"`
}

type rolesResponse struct {
	Roles []Role `json:"roles"`
}

type inviteRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type addUserToRoleRequest struct {
	RoleName string `json:"roleName"`
	Username string `json:"username"`
	RoomID   string `json:"roomId,omitempty"`
}
