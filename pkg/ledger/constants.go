package ledger

const (
	operationOpen    = "open"
	operationDeduct  = "deduct"
	operationCredit  = "credit"
	operationRenew   = "renew"
	operationReserve = "reserve"
	operationCapture = "capture"
	operationRelease = "release"

	operationStatusOK       = "ok"
	operationStatusError    = "error"
	operationStatusRejected = "rejected"
	operationStatusNoop     = "noop"

	metadataKeyCategory      = "category"
	metadataKeyCost          = "cost"
	metadataKeyOperationType = "operationType"
	metadataKeyReservationID = "reservationId"

	defaultConflictRetries = 3
)

// Sentinel operation tags for transactions that are not priced spends.
const (
	OperationTokenPurchase  = "token_purchase"
	OperationMonthlyRenewal = "monthly_renewal"
	OperationTokenRefund    = "token_refund"
)

const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 200
)
