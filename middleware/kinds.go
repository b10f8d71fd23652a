package middleware

// Error kinds reported in the "kind" field of every error body.
const (
	KindDuplicateName    = "DuplicateName"
	KindNotFound         = "NotFound"
	KindUnknownPlayer    = "UnknownPlayer"
	KindInvalidPair      = "InvalidPair"
	KindInvalidScore     = "InvalidScore"
	KindScoreNotHigher   = "ScoreNotHigher"
	KindInvalidRequest   = "InvalidRequest"
	KindStoreUnavailable = "StoreUnavailable"
	KindInternal         = "Internal"
	KindForbidden        = "Forbidden"
	KindRateLimited      = "RateLimited"
)
