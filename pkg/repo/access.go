package repo

import (
	"github.com/e2llm/chartrepo/pkg/errcode"
	"github.com/e2llm/chartrepo/pkg/scopes"
)

// Principal is the caller of a facade operation.
type Principal struct {
	// ID is the owner name the principal authenticates as.
	ID string
	// Scopes are the API key scopes granted to the caller.
	Scopes scopes.Bitfield
	// Membership holds the caller's member permissions on the target
	// repository's owner. Nil means the caller is not a member.
	Membership *scopes.Bitfield
}

// Operator is a principal holding every scope, for local tooling.
func Operator(regs *scopes.Registries) Principal {
	members := regs.Members.All()
	return Principal{ID: "operator", Scopes: regs.APIKeys.All(), Membership: &members}
}

// Repository names one chart repository.
type Repository struct {
	Owner   string
	Name    string
	Private bool
}

func (t Repository) String() string { return t.Owner + "/" + t.Name }

// authorize checks a mutating operation. The caller needs scope, and when
// acting on somebody else's repository also the member permission.
func authorize(p Principal, target Repository, scope, member string) error {
	if err := scopes.Require(p.Scopes, scope); err != nil {
		return err
	}
	if p.ID == target.Owner {
		return nil
	}
	if p.Membership == nil {
		return errcode.New(errcode.PermissionDenied, "%s is not a member of %s", p.ID, target.Owner)
	}
	return scopes.Require(*p.Membership, member)
}

// authorizeRead lets anyone read a public repository. Private repositories
// need repo:access from the owner or a member.
func authorizeRead(p Principal, target Repository) error {
	if !target.Private {
		return nil
	}
	if err := scopes.Require(p.Scopes, scopes.RepoAccess); err != nil {
		return err
	}
	if p.ID != target.Owner && p.Membership == nil {
		return errcode.New(errcode.PermissionDenied, "%s is not a member of %s", p.ID, target.Owner)
	}
	return nil
}
