package authapi

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}
