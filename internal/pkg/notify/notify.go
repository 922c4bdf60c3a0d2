package notify

// Mailer 定义账号邮件发送接口。
type Mailer interface {
	// Configured 返回 SMTP 是否已配置；未配置时注册流程跳过邮箱验证。
	Configured() bool

	// SendVerificationCode 发送邮箱验证码。
	SendVerificationCode(toEmail string, code string) error
}
