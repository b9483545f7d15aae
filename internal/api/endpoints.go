package api

// Backend endpoints consumed by the session core.
const (
	PathLogin              = "/auth/login"
	PathGoogleLogin        = "/auth/google"
	PathRegister           = "/auth/register"
	PathVerifyEmail        = "/auth/verify-email"
	PathResendVerification = "/auth/resend-verification"
	PathSetTransactionPin  = "/auth/set-pin"
	PathUser               = "/auth/user"
	PathProfile            = "/auth/profile"
	PathLogout             = "/auth/logout"
)
