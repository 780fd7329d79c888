package jwt

type Role int

type User struct {
	Id           string
	Email        string
	Name         string
	Status       string
	PasswordHash string
}

type RegisterUser struct {
	Email    string
	Name     string
	Password string
}

type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
