package security

import "golang.org/x/crypto/bcrypt"

// BcryptHasher hashes account passwords, including the key-as-password
// accounts auto-provisioned on first redemption. Cost comes from
// configuration; non-positive values fall back to the library default.
type BcryptHasher struct {
	cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Compare reports a mismatch between the stored hash and the presented
// password as an error, per the ports.PasswordHasher contract.
func (h *BcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
