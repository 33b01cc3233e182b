package models

// Author is either anonymous or an identified user. The zero value is
// anonymous; callers must go through UserID to get at the id.
type Author struct {
	userID     uint
	identified bool
}

func Anonymous() Author {
	return Author{}
}

func Identified(userID uint) Author {
	return Author{userID: userID, identified: true}
}

// UserID returns the internal user id and true for identified authors.
func (a Author) UserID() (uint, bool) {
	return a.userID, a.identified
}

func (a Author) IsAnonymous() bool {
	return !a.identified
}
