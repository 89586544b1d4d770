package models

// FCMToken is a registered web-push token. Only the token suffix is exposed.
type FCMToken struct {
	TokenLast8 string    `json:"tokenLast8"`
	UserAgent  string    `json:"userAgent,omitempty"`
	CreatedAt  Timestamp `json:"createdAt"`
}

// FCMTokenRegisterRequest is the optional body for registering a token.
type FCMTokenRegisterRequest struct {
	UserAgent string `json:"userAgent,omitempty"`
}

// PagedFCMTokens is a list of tokens.
type PagedFCMTokens struct {
	Items []FCMToken        `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}
