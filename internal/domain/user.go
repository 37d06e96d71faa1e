package domain

import "time"

// User is a registered identity. The record is keyed by phone number; email is
// unique through the email-index GSI.
// A verified user never carries OTP fields.
type User struct {
	UserID       string     `json:"id" dynamodbav:"user_id"`
	FirstName    string     `json:"first_name" dynamodbav:"first_name"`
	LastName     string     `json:"last_name" dynamodbav:"last_name"`
	Email        string     `json:"email" dynamodbav:"email"`
	PhoneNo      string     `json:"phone_no" dynamodbav:"phone_no"`
	DateOfBirth  time.Time  `json:"date_of_birth" dynamodbav:"date_of_birth"`
	PasswordHash string     `json:"-" dynamodbav:"password_hash"`
	IsVerified   bool       `json:"is_verified" dynamodbav:"is_verified"`
	OTP          *string    `json:"-" dynamodbav:"otp,omitempty"`
	OTPExpiry    *time.Time `json:"-" dynamodbav:"otp_expiry,omitempty"`
	CreatedAt    time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time  `json:"updated" dynamodbav:"updated_at"`
}

// MarkVerified flips the verification flag and clears the OTP fields.
func (u *User) MarkVerified(now time.Time) {
	u.IsVerified = true
	u.OTP = nil
	u.OTPExpiry = nil
	u.UpdatedAt = now
}

// RegistrationPatch holds the fields a registration writes onto the record
// keyed by PhoneNo. The verification flag is always reset to false.
type RegistrationPatch struct {
	PhoneNo      string
	FirstName    string
	LastName     string
	Email        string
	DateOfBirth  time.Time
	PasswordHash string
	OTP          string
	OTPExpiry    time.Time
}

type RegisterRequest struct {
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	PhoneNo     string `json:"phone_no" validate:"required,number,min=10,max=15"`
	DateOfBirth string `json:"date_of_birth" validate:"required"` // expected format: YYYY-MM-DD
	Password    string `json:"password" validate:"required,min=6,max=72"`
}

type VerifyOTPRequest struct {
	PhoneNo string `json:"phone_no" validate:"required,number,min=10,max=15"`
	OTP     string `json:"otp" validate:"required,number,len=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}
