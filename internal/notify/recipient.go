package notify

// Recipient: закрытый набор адресатов. Новый вид адресата требует
// метода в RecipientVisitor, иначе код не соберётся.
type Recipient interface {
	Accept(v RecipientVisitor)
}

type RecipientVisitor interface {
	VisitClient(r ClientRecipient)
	VisitProfessional(r ProfessionalRecipient)
}

// ClientRecipient: клиент записи; связь только по e-mail.
type ClientRecipient struct {
	Name  string
	Email string
}

func (r ClientRecipient) Accept(v RecipientVisitor) { v.VisitClient(r) }

// ProfessionalRecipient: владелец записи. Telegram в приоритете.
type ProfessionalRecipient struct {
	Name           string
	Email          string
	TelegramChatID *int64
}

func (r ProfessionalRecipient) Accept(v RecipientVisitor) { v.VisitProfessional(r) }
