package auth

// Role is one of the cooperative's fixed staff roles.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleSupervisor Role = "SUPERVISOR"
	RoleTeller     Role = "TELLER"
	RoleAuditor    Role = "AUDITOR"
)

// Permission keys name every gated operation of the ledger core.
const (
	PermMemberCreate       = "member.create"
	PermMemberRead         = "member.read"
	PermAccountOpen        = "account.open"
	PermAccountBlock       = "account.block"
	PermTransactionApply   = "transaction.apply"
	PermTransactionRead    = "transaction.read"
	PermContributionRecord = "contribution.record"
	PermAidRequest         = "aid.request"
	PermAidDecide          = "aid.decide"
	PermAuditRead          = "audit.read"
	PermReportRead         = "report.read"
)

var allPermissions = []string{
	PermMemberCreate,
	PermMemberRead,
	PermAccountOpen,
	PermAccountBlock,
	PermTransactionApply,
	PermTransactionRead,
	PermContributionRecord,
	PermAidRequest,
	PermAidDecide,
	PermAuditRead,
	PermReportRead,
}

// rolePermissions is the single declarative permission matrix. Every handler
// consults it through Authorize before any domain validation runs.
var rolePermissions = map[Role][]string{
	RoleAdmin: allPermissions,
	RoleTeller: {
		PermMemberCreate,
		PermMemberRead,
		PermAccountOpen,
		PermTransactionApply,
		PermTransactionRead,
		PermContributionRecord,
		PermAidRequest,
		PermReportRead,
	},
	RoleSupervisor: {
		PermMemberRead,
		PermTransactionRead,
		PermAidDecide,
		PermReportRead,
	},
	RoleAuditor: {
		PermMemberRead,
		PermTransactionRead,
		PermAuditRead,
		PermReportRead,
	},
}

// KnownRole reports whether r is part of the fixed role set.
func KnownRole(r Role) bool {
	_, ok := rolePermissions[r]
	return ok
}
