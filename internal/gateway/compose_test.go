package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const usersSDL = `
scalar DateTime
type User @key(fields: "id") {
  id: ID!
  name: String!
  joined: DateTime
}
type Query {
  user(id: ID!): User
}
`

const postsSDL = `
scalar DateTime
type Post @key(fields: "id") {
  id: ID!
  title: String!
  author: User
  createdAt: DateTime
}
type User @key(fields: "id") @extends {
  id: ID! @external
  posts: [Post!]!
}
type Query {
  posts: [Post!]!
}
`

func compose(sdl ...string) (*Supergraph, error) {
	names := []string{"users", "posts", "extra"}
	defs := make([]ServiceDefinition, len(sdl))
	for i, s := range sdl {
		defs[i] = ServiceDefinition{Service: Service{Name: names[i], URL: "http://" + names[i]}, SDL: s}
	}
	return Compose(defs)
}

func TestComposeMergesOwnership(t *testing.T) {
	super, err := compose(usersSDL, postsSDL)
	require.NoError(t, err)

	user := super.Schema().Types["User"]
	require.NotNil(t, user)
	require.NotNil(t, user.Fields.ForName("name"))
	require.NotNil(t, user.Fields.ForName("posts"))
	require.Nil(t, super.Schema().Types["_Entity"])
	require.Nil(t, super.Schema().Query.Fields.ForName("_entities"))
	require.Nil(t, super.Schema().Query.Fields.ForName("_service"))

	require.Equal(t, "users", super.Owner("Query", "user"))
	require.Equal(t, "posts", super.Owner("Query", "posts"))
	require.Equal(t, "users", super.Owner("User", "name"))
	require.Equal(t, "posts", super.Owner("User", "posts"))
	require.Equal(t, "users", super.Owner("User", "id"))

	require.True(t, super.canResolve("posts", "User", "id"))
	require.False(t, super.canResolve("posts", "User", "name"))
	require.True(t, super.canResolve("posts", "User", "__typename"))
	require.NotContains(t, super.SDL(), "@key")
	require.NotContains(t, super.SDL(), "@external")
}

func TestComposeRejectsConflicts(t *testing.T) {
	tests := []struct {
		name string
		sdl  []string
		want string
	}{
		{
			name: "root field owned twice",
			sdl:  []string{usersSDL, "type Query { user(id: ID!): String }"},
			want: "Query.user is defined by both users and posts",
		},
		{
			name: "type defined twice",
			sdl:  []string{usersSDL, postsSDL, "type Post { id: ID! }\ntype Query { latest: Post }"},
			want: "type Post is defined by both posts and extra",
		},
		{
			name: "extension without key",
			sdl:  []string{usersSDL, "extend type User { age: Int }\ntype Query { ping: Boolean }"},
			want: "posts extends User without @key",
		},
		{
			name: "extended but never defined",
			sdl:  []string{"type Query { ping: Boolean }", `type Team @key(fields: "id") @extends { id: ID! @external size: Int }` + "\ntype Query { teams: [Team] }"},
			want: "type Team is extended but never defined",
		},
		{
			name: "external field nobody defines",
			sdl:  []string{usersSDL, `type User @key(fields: "id") @extends { id: ID! @external email: String @external score: Int }` + "\ntype Query { top: [User] }"},
			want: "posts marks User.email @external",
		},
		{
			name: "abstract type",
			sdl:  []string{usersSDL, "union Feed = User\ntype Query { feed: [Feed] }"},
			want: "posts defines union Feed",
		},
		{
			name: "unparsable",
			sdl:  []string{"type Query {"},
			want: "parse users schema",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compose(tt.sdl...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestComposeMergesSharedScalars(t *testing.T) {
	super, err := compose(usersSDL, postsSDL)
	require.NoError(t, err)
	require.NotNil(t, super.Schema().Types["DateTime"])
}

func TestComposeRequiresSubgraphs(t *testing.T) {
	_, err := Compose(nil)
	require.Error(t, err)
}
