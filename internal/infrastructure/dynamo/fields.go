package dynamo

// DynamoDB attribute names of the users table.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldUserID       = "user_id"
	fieldFirstName    = "first_name"
	fieldLastName     = "last_name"
	fieldEmail        = "email"
	fieldPhoneNo      = "phone_no"
	fieldDateOfBirth  = "date_of_birth"
	fieldPasswordHash = "password_hash"
	fieldIsVerified   = "is_verified"
	fieldOTP          = "otp"
	fieldOTPExpiry    = "otp_expiry"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"

	// Email guard items share the table. Their partition key is
	// emailGuardPrefix+email and they record the owning phone number.
	fieldGuardOwner  = "owner_phone"
	emailGuardPrefix = "email#"
)
