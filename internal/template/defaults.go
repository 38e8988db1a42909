package template

// Default templates offered to new campaigns.
const (
	DefaultSubject = "Hello {{name}}, interested in {{category}} services?"

	DefaultBody = `<html>
  <body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <h2>Hello {{name}},</h2>
    <p>I hope this email finds you well. I noticed that {{company}} is in the {{category}} industry in {{city}}, {{country}}.</p>
    <p>I'd love to learn more about your business and see if there's a way we could work together.</p>
    <p>Would you be available for a brief call this week to discuss?</p>
    <p>Best regards,<br>
    Your Name</p>
  </body>
</html>`
)
