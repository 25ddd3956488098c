package scopes

// API key scopes.
const (
	UserAccess        = "user:access"
	UserUpdate        = "user:update"
	UserDelete        = "user:delete"
	UserConnections   = "user:connections"
	UserNotifications = "user:notifications"
	UserAvatarUpdate  = "user:avatar:update"
	UserSessionsList  = "user:sessions:list"

	RepoAccess               = "repo:access"
	RepoCreate               = "repo:create"
	RepoDelete               = "repo:delete"
	RepoUpdate               = "repo:update"
	RepoWrite                = "repo:write" // Deprecated: use RepoReleasesCreate.
	RepoIconUpdate           = "repo:icon:update"
	RepoReleasesCreate       = "repo:releases:create"
	RepoReleasesUpdate       = "repo:releases:update"
	RepoReleasesDelete       = "repo:releases:delete"
	RepoMembersList          = "repo:members:list"
	RepoMembersUpdate        = "repo:members:update"
	RepoMembersKick          = "repo:members:kick"
	RepoMembersInvitesAccess = "repo:members:invites:access"
	RepoMembersInvitesUpdate = "repo:members:invites:update"
	RepoMembersInvitesDelete = "repo:members:invites:delete"
	RepoWebhooksList         = "repo:webhooks:list"
	RepoWebhooksCreate       = "repo:webhooks:create"
	RepoWebhooksUpdate       = "repo:webhooks:update"
	RepoWebhooksDelete       = "repo:webhooks:delete"
	RepoWebhooksEventsAccess = "repo:webhooks:events:access"
	RepoWebhooksEventsDelete = "repo:webhooks:events:delete"

	APIKeysView   = "apikeys:view"
	APIKeysList   = "apikeys:list"
	APIKeysCreate = "apikeys:create"
	APIKeysDelete = "apikeys:delete"
	APIKeysUpdate = "apikeys:update"

	OrgAccess               = "org:access"
	OrgCreate               = "org:create"
	OrgUpdate               = "org:update"
	OrgDelete               = "org:delete"
	OrgMembersInvites       = "org:members:invites"
	OrgMembersList          = "org:members:list"
	OrgMembersKick          = "org:members:kick"
	OrgMembersUpdate        = "org:members:update"
	OrgWebhooksList         = "org:webhooks:list"
	OrgWebhooksCreate       = "org:webhooks:create"
	OrgWebhooksUpdate       = "org:webhooks:update"
	OrgWebhooksDelete       = "org:webhooks:delete"
	OrgWebhooksEventsList   = "org:webhooks:events:list"
	OrgWebhooksEventsDelete = "org:webhooks:events:delete"

	AdminStats       = "admin:stats"
	AdminUsersCreate = "admin:users:create"
	AdminUsersDelete = "admin:users:delete"
	AdminUsersUpdate = "admin:users:update"
	AdminOrgsDelete  = "admin:orgs:delete"
	AdminOrgsUpdate  = "admin:orgs:update"
)

// Member permissions.
const (
	MemberInvite     = "member:invite"
	MemberUpdate     = "member:update"
	MemberKick       = "member:kick"
	MetadataUpdate   = "metadata:update"
	MemberRepoCreate = "repo:create"
	MemberRepoDelete = "repo:delete"
	WebhooksCreate   = "webhooks:create"
	WebhooksUpdate   = "webhooks:update"
	WebhooksDelete   = "webhooks:delete"
	MetadataDelete   = "metadata:delete"
)

// APIKeyScopeTable returns the shipped API key scope layout. Append only.
func APIKeyScopeTable() map[string]uint {
	return map[string]uint{
		UserAccess:        0,
		UserUpdate:        1,
		UserDelete:        2,
		UserConnections:   3,
		UserNotifications: 4,
		UserAvatarUpdate:  5,
		UserSessionsList:  6,

		RepoAccess:               7,
		RepoCreate:               8,
		RepoDelete:               9,
		RepoUpdate:               10,
		RepoWrite:                11,
		RepoIconUpdate:           12,
		RepoReleasesCreate:       13,
		RepoReleasesUpdate:       14,
		RepoReleasesDelete:       15,
		RepoMembersList:          16,
		RepoMembersUpdate:        17,
		RepoMembersKick:          18,
		RepoMembersInvitesAccess: 19,
		RepoMembersInvitesUpdate: 20,
		RepoMembersInvitesDelete: 21,
		RepoWebhooksList:         22,
		RepoWebhooksCreate:       23,
		RepoWebhooksUpdate:       24,
		RepoWebhooksDelete:       25,
		RepoWebhooksEventsAccess: 26,
		RepoWebhooksEventsDelete: 27,

		APIKeysView:   28,
		APIKeysCreate: 29,
		APIKeysDelete: 30,
		APIKeysUpdate: 31,

		OrgAccess:               32,
		OrgCreate:               33,
		OrgUpdate:               34,
		OrgDelete:               35,
		OrgMembersInvites:       36,
		OrgMembersList:          37,
		OrgMembersKick:          38,
		OrgMembersUpdate:        39,
		OrgWebhooksList:         40,
		OrgWebhooksCreate:       41,
		OrgWebhooksUpdate:       42,
		OrgWebhooksDelete:       43,
		OrgWebhooksEventsList:   44,
		OrgWebhooksEventsDelete: 45,

		AdminStats:       46,
		AdminUsersCreate: 47,
		AdminUsersDelete: 48,
		AdminUsersUpdate: 49,
		AdminOrgsDelete:  50,
		AdminOrgsUpdate:  51,

		APIKeysList: 52,
	}
}

// MemberPermissionTable returns the shipped member permission layout. Append
// only.
func MemberPermissionTable() map[string]uint {
	return map[string]uint{
		MemberInvite:     0,
		MemberUpdate:     1,
		MemberKick:       2,
		MetadataUpdate:   3,
		MemberRepoCreate: 4,
		MemberRepoDelete: 5,
		WebhooksCreate:   6,
		WebhooksUpdate:   7,
		WebhooksDelete:   8,
		MetadataDelete:   9,
	}
}

// Registries holds the process-wide registries. Build it once at startup
// with NewRegistries and pass it to whatever enforces permissions.
type Registries struct {
	APIKeys *Registry
	Members *Registry
}

func NewRegistries() (*Registries, error) {
	apiKeys, err := NewRegistry("apikey", APIKeyScopeTable())
	if err != nil {
		return nil, err
	}
	members, err := NewRegistry("member", MemberPermissionTable())
	if err != nil {
		return nil, err
	}
	return &Registries{APIKeys: apiKeys, Members: members}, nil
}

// MustRegistries is NewRegistries for program initialization.
func MustRegistries() *Registries {
	r, err := NewRegistries()
	if err != nil {
		panic(err)
	}
	return r
}
