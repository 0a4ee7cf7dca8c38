package auth

import (
	"encoding/json"
	"time"
)

// User пользователь из account API
type User struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	WalletAddress   string     `json:"wallet_address"`
	Role            string     `json:"role"`
}

// ToJSON сериализует пользователя в JSON для кеширования
func (u *User) ToJSON() ([]byte, error) {
	return json.Marshal(u)
}

// UserFromJSON десериализует пользователя из JSON
func UserFromJSON(data []byte) (*User, error) {
	var user User
	err := json.Unmarshal(data, &user)
	return &user, err
}

// IsEmailVerified проверяет, подтвержден ли email пользователя
func (u *User) IsEmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

// IsAdmin проверяет, является ли пользователь администратором
func (u *User) IsAdmin() bool {
	return u.Role == "admin"
}

// HasWallet проверяет, привязан ли кошелек для начисления наград
func (u *User) HasWallet() bool {
	return u.WalletAddress != ""
}
