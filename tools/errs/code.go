package errs

// Gateway error codes. 14xx auth, 15xx traffic, 16xx rooms, 17xx storage.
const (
	CodeAuthRejected     = 1401
	CodeTokenExpired     = 1402
	CodeRateLimited      = 1501
	CodeRoomUnauthorized = 1601
	CodeRoomUnknown      = 1602
	CodeQueueUnavailable = 1701
)

var (
	ErrAuthRejected     = NewCodeError(CodeAuthRejected, "authentication rejected")
	ErrTokenExpired     = NewCodeError(CodeTokenExpired, "token expired")
	ErrRateLimited      = NewCodeError(CodeRateLimited, "rate limited")
	ErrRoomUnauthorized = NewCodeError(CodeRoomUnauthorized, "not a member of room")
	ErrRoomUnknown      = NewCodeError(CodeRoomUnknown, "unknown room kind")
	ErrQueueUnavailable = NewCodeError(CodeQueueUnavailable, "offline queue unavailable")
)
