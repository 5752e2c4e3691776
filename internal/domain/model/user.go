package model

// User is the signed-in staff member. The zero value means nobody is signed in.
type User struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Profile  string `json:"profile"`
	IsLogin  bool   `json:"is_login"`
}
