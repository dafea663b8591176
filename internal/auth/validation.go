package auth

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email is a syntactically valid address.
func ValidEmail(email string) bool {
	return email != "" && validate.Var(email, "required,email") == nil
}

// ValidEntityID reports whether id is a version 4 UUID.
func ValidEntityID(id string) bool {
	return id != "" && validate.Var(id, "required,uuid4") == nil
}

// validateRegistration checks the input fields in order and stops at the first failure.
// Role existence and password policy are checked by the caller.
func validateRegistration(in RegisterInput) *Error {
	if !ValidEmail(in.Email) {
		return validationError("invalid email format", "email")
	}
	if !in.AccountType.Valid() {
		return validationError("invalid account type", "accountType")
	}
	if !ValidEntityID(in.EntityID) {
		return validationError("invalid entity id, expected a UUID v4", "entityId")
	}
	if in.RoleID <= 0 {
		return validationError("invalid role id", "roleId")
	}
	return nil
}
