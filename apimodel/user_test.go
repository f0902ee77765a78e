package apimodel_test

import (
	"encoding/json"
	"testing"

	"github.com/jrsteele09/smartstudy-sync/apimodel"
	"github.com/stretchr/testify/require"
)

func TestUserIDAcceptsNumbersAndStrings(t *testing.T) {
	var u apimodel.User
	require.NoError(t, json.Unmarshal([]byte(`{"id":17,"name":"Ama","email":"ama@example.com"}`), &u))
	require.Equal(t, apimodel.UserID("17"), u.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"u-9"}`), &u))
	require.Equal(t, apimodel.UserID("u-9"), u.ID)

	out, err := json.Marshal(apimodel.User{ID: apimodel.UserIDFromInt(5)})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"5","name":"","email":""}`, string(out))
}

func TestRequestOptionsMethod(t *testing.T) {
	require.Equal(t, "GET", apimodel.RequestOptions{}.NormalizedMethod())
	require.False(t, apimodel.RequestOptions{}.IsMutating())
	require.True(t, apimodel.RequestOptions{Method: "post"}.IsMutating())
	require.True(t, apimodel.RequestOptions{Method: "DELETE"}.IsMutating())
	require.False(t, apimodel.RequestOptions{Method: "PATCH"}.IsMutating())
}

func TestAuthResponseOptionalRefreshToken(t *testing.T) {
	var resp apimodel.AuthResponse
	require.NoError(t, json.Unmarshal([]byte(`{"access_token":"a","expires_in":60,"id":1,"name":"n","email":"e"}`), &resp))
	require.Nil(t, resp.RefreshToken)
	require.Equal(t, 60, resp.ExpiresIn)
}

func TestCollectionsNormalizedAndClone(t *testing.T) {
	c := apimodel.Collections{Notes: []json.RawMessage{json.RawMessage(`{"id":"n1"}`)}}.Normalized()
	require.NotNil(t, c.Courses)
	require.NotNil(t, c.Quizzes)
	require.Len(t, c.Get(apimodel.PathNotes), 1)

	clone := c.Clone()
	clone.Notes[0][2] = 'X'
	require.JSONEq(t, `{"id":"n1"}`, string(c.Notes[0]))

	data, err := json.Marshal(apimodel.EmptyCollections())
	require.NoError(t, err)
	require.JSONEq(t, `{"courses":[],"notes":[],"quizzes":[]}`, string(data))

	require.True(t, apimodel.IsCollection("quizzes"))
	require.False(t, apimodel.IsCollection("profile"))
}
