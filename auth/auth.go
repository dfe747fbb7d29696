package auth

// Checker verifies a supplied password against the stored one.
type Checker interface {
	Check(stored, supplied string) bool
}

// PlainChecker compares passwords for plain equality.
type PlainChecker struct{}

func (PlainChecker) Check(stored, supplied string) bool {
	return stored == supplied
}
