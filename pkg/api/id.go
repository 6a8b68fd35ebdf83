package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	projectIDPrefix  = "proj_"
	messageIDPrefix  = "msg_"
	fragmentIDPrefix = "frag_"
)

var (
	projectIDPattern  = regexp.MustCompile(`^proj_[a-zA-Z0-9]{24}$`)
	messageIDPattern  = regexp.MustCompile(`^msg_[a-zA-Z0-9]{24}$`)
	fragmentIDPattern = regexp.MustCompile(`^frag_[a-zA-Z0-9]{24}$`)
)

// NewProjectID generates a project ID: "proj_" followed by 24
// cryptographically random alphanumeric characters.
func NewProjectID() string {
	return projectIDPrefix + randomAlphanumeric(idLength)
}

// NewMessageID generates a message ID with the "msg_" prefix.
func NewMessageID() string {
	return messageIDPrefix + randomAlphanumeric(idLength)
}

// NewFragmentID generates a fragment ID with the "frag_" prefix.
func NewFragmentID() string {
	return fragmentIDPrefix + randomAlphanumeric(idLength)
}

// ValidateProjectID reports whether id has the shape produced by NewProjectID.
func ValidateProjectID(id string) bool {
	return projectIDPattern.MatchString(id)
}

// ValidateMessageID reports whether id has the shape produced by NewMessageID.
func ValidateMessageID(id string) bool {
	return messageIDPattern.MatchString(id)
}

// ValidateFragmentID reports whether id has the shape produced by NewFragmentID.
func ValidateFragmentID(id string) bool {
	return fragmentIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
