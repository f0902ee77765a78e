package apimodel

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// UserID accepts both string and numeric ids from the API and always encodes
// as a string.
type UserID string

func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = UserID(n.String())
	return nil
}

func (id UserID) String() string {
	return string(id)
}

// UserIDFromInt is a convenience for numeric ids.
func UserIDFromInt(n int64) UserID {
	return UserID(strconv.FormatInt(n, 10))
}

// User is the authenticated identity.
type User struct {
	ID    UserID `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
