package common

const (
	// AuthorizationHeaderName carries the bearer token on inbound requests.
	AuthorizationHeaderName = "Authorization"

	// BearerPrefix precedes the token inside the Authorization header.
	BearerPrefix = "Bearer "

	// DefaultUserRole is assigned to synced users and to created users
	// that do not name a role.
	DefaultUserRole = "User"

	// MaxAddressJSONLength is the storage limit of users.address_json.
	MaxAddressJSONLength = 2000
)
