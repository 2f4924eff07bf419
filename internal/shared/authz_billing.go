package shared

// Billing permissions checked by the RBAC middleware.
const (
	PermBillingView              = "billing.view"
	PermBillingInvoicesGenerate  = "billing.invoices.generate"
	PermBillingPaymentsRecord    = "billing.payments.record"
	PermBillingPaymentsReverse   = "billing.payments.reverse"
	PermBillingCertificatesIssue = "billing.certificates.issue"
	PermBillingInterestRun       = "billing.interest.run"
	PermBillingConceptsManage    = "billing.concepts.manage"
)

// BillingPermissions lists every billing permission for seeding roles.
func BillingPermissions() []string {
	return []string{
		PermBillingView,
		PermBillingInvoicesGenerate,
		PermBillingPaymentsRecord,
		PermBillingPaymentsReverse,
		PermBillingCertificatesIssue,
		PermBillingInterestRun,
		PermBillingConceptsManage,
	}
}
