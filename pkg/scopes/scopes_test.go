package scopes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2llm/chartrepo/pkg/errcode"
)

func TestNewRegistryValidation(t *testing.T) {
	_, err := NewRegistry("t", map[string]uint{"a": 1, "b": 1})
	assert.ErrorContains(t, err, "share position 1")

	_, err = NewRegistry("t", map[string]uint{"a": MaxPositions})
	assert.ErrorContains(t, err, "exceeds")

	_, err = NewRegistry("t", map[string]uint{"": 0})
	assert.ErrorContains(t, err, "empty flag name")

	r, err := NewRegistry("t", map[string]uint{"c": 63, "a": 0, "b": 5})
	require.NoError(t, err)
	assert.Equal(t, []Flag{{"a", 0}, {"b", 5}, {"c", 63}}, r.Flags())
	assert.Equal(t, uint64(1|1<<5|1<<63), r.Max())
	assert.Equal(t, "t", r.Name())
}

func TestAPIKeyPositionsArePinned(t *testing.T) {
	regs, err := NewRegistries()
	require.NoError(t, err)

	want := []string{
		UserAccess, UserUpdate, UserDelete, UserConnections, UserNotifications,
		UserAvatarUpdate, UserSessionsList,
		RepoAccess, RepoCreate, RepoDelete, RepoUpdate, RepoWrite, RepoIconUpdate,
		RepoReleasesCreate, RepoReleasesUpdate, RepoReleasesDelete,
		RepoMembersList, RepoMembersUpdate, RepoMembersKick,
		RepoMembersInvitesAccess, RepoMembersInvitesUpdate, RepoMembersInvitesDelete,
		RepoWebhooksList, RepoWebhooksCreate, RepoWebhooksUpdate, RepoWebhooksDelete,
		RepoWebhooksEventsAccess, RepoWebhooksEventsDelete,
		APIKeysView, APIKeysCreate, APIKeysDelete, APIKeysUpdate,
		OrgAccess, OrgCreate, OrgUpdate, OrgDelete,
		OrgMembersInvites, OrgMembersList, OrgMembersKick, OrgMembersUpdate,
		OrgWebhooksList, OrgWebhooksCreate, OrgWebhooksUpdate, OrgWebhooksDelete,
		OrgWebhooksEventsList, OrgWebhooksEventsDelete,
		AdminStats, AdminUsersCreate, AdminUsersDelete, AdminUsersUpdate,
		AdminOrgsDelete, AdminOrgsUpdate,
		APIKeysList,
	}
	flags := regs.APIKeys.Flags()
	require.Len(t, flags, len(want))
	for i, name := range want {
		assert.Equal(t, Flag{Name: name, Position: uint(i)}, flags[i])
	}
}

func TestMemberPositionsArePinned(t *testing.T) {
	regs := MustRegistries()
	want := []string{
		MemberInvite, MemberUpdate, MemberKick, MetadataUpdate,
		MemberRepoCreate, MemberRepoDelete,
		WebhooksCreate, WebhooksUpdate, WebhooksDelete, MetadataDelete,
	}
	assert.Equal(t, want, regs.Members.All().Names())
	assert.Equal(t, uint64(1<<10-1), regs.Members.Max())
}

func TestTablesAreFreshCopies(t *testing.T) {
	a := APIKeyScopeTable()
	a[UserAccess] = 40
	assert.Equal(t, uint(0), APIKeyScopeTable()[UserAccess])
}

func TestBitfieldOperations(t *testing.T) {
	r := MustRegistries().APIKeys

	b := r.Init(0)
	assert.False(t, b.ContainsFlag(RepoAccess))

	require.NoError(t, b.AddFlags(RepoAccess, APIKeysList))
	assert.True(t, b.ContainsFlag(RepoAccess))
	assert.True(t, b.ContainsFlag(APIKeysList))
	assert.Equal(t, uint64(1<<7|1<<52), b.Value())
	assert.Equal(t, []string{RepoAccess, APIKeysList}, b.Names())
	assert.Equal(t, "4503599627370624 [repo:access apikeys:list]", b.String())

	access, _ := r.Bit(RepoAccess)
	b.Remove(access)
	assert.False(t, b.ContainsFlag(RepoAccess))
	assert.True(t, b.ContainsFlag(APIKeysList))

	// Removing an unset bit leaves the value alone.
	b.Remove(access)
	assert.Equal(t, uint64(1<<52), b.Value())

	err := b.AddFlags("repo:teleport")
	assert.True(t, errcode.Has(err, errcode.InvalidInput))
	assert.False(t, b.ContainsFlag("repo:teleport"))
}

func TestAddMasksToRegistry(t *testing.T) {
	r := MustRegistries().Members
	b := r.Init(0)
	b.Add(1<<3, 1<<40)
	assert.Equal(t, uint64(1<<3), b.Value())
	assert.Equal(t, []string{MetadataUpdate}, b.Names())
}

func TestInitKeepsUnknownBits(t *testing.T) {
	r := MustRegistries().Members
	b := r.Init(1<<2 | 1<<60)
	assert.Equal(t, uint64(1<<2|1<<60), b.Value())
	assert.Equal(t, []string{MemberKick}, b.Names())
	assert.True(t, b.Contains(1<<60))
}

func TestContainsIsAnyOverlap(t *testing.T) {
	r := MustRegistries().APIKeys
	b, err := r.FromNames(RepoReleasesCreate)
	require.NoError(t, err)

	create, _ := r.Bit(RepoReleasesCreate)
	write, _ := r.Bit(RepoWrite)
	assert.True(t, b.Contains(create|write))
	assert.False(t, b.Contains(write))
	assert.False(t, b.Contains(0))
}

func TestRoundTripStoredValue(t *testing.T) {
	r := MustRegistries().APIKeys
	b, err := r.FromNames(UserAccess, APIKeysList)
	require.NoError(t, err)

	again := r.Init(b.Value())
	assert.Equal(t, b.Names(), again.Names())
	assert.Equal(t, uint64(1|1<<52), again.Value())
}

func TestAll(t *testing.T) {
	r := MustRegistries().APIKeys
	all := r.All()
	assert.Equal(t, r.Max(), all.Value())
	assert.Len(t, all.Flags(), 53)
	for _, f := range r.Flags() {
		assert.True(t, all.ContainsFlag(f.Name), f.Name)
	}
}

func TestRequire(t *testing.T) {
	r := MustRegistries().APIKeys
	b, err := r.FromNames(RepoAccess)
	require.NoError(t, err)

	assert.NoError(t, Require(b, RepoAccess))

	err = Require(b, RepoReleasesDelete)
	assert.True(t, errcode.Has(err, errcode.PermissionDenied))
	assert.Equal(t, 403, errcode.HTTPStatus(err))

	// A zero Bitfield has no registry and grants nothing.
	assert.Error(t, Require(Bitfield{}, RepoAccess))
}

func TestZeroBitfield(t *testing.T) {
	var b Bitfield
	b.Add(1)
	assert.Equal(t, uint64(0), b.Value())
	assert.Nil(t, b.Flags())
	assert.Error(t, b.AddFlags(RepoAccess))
}
