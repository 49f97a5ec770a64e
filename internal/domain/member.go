package domain

// Member is a server member as reported by the chat platform.
// No transport or lifecycle logic here.
type Member struct {
	ID          MemberID `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	AvatarURL   string   `json:"avatar_url,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Admin       bool     `json:"admin,omitempty"`
	Bot         bool     `json:"bot,omitempty"`
}

// HasRole matches by role name, the way permission gates are expressed here.
func (m *Member) HasRole(name string) bool {
	for _, r := range m.Roles {
		if r == name {
			return true
		}
	}
	return false
}
