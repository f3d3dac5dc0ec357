package template

import (
	"fmt"
	"strings"
)

// Template keys for the fixed set of business events.
const (
	KeyUserRegistered                 = "user_registered_v1"
	KeyTicketCreated                  = "ticket_created_v1"
	KeyTicketReplied                  = "ticket_replied_v1"
	KeyTicketClosed                   = "ticket_closed_v1"
	KeyTicketUrgentSupervisorRequired = "ticket_urgent_supervisor_required_v1"
)

// Payload field defaults applied when a key is missing or blank.
const (
	defaultRecipientName = "User"
	defaultTicketID      = "-"
	defaultSubject       = "(no subject)"
	defaultActionLabel   = "通知"
)

// Message is a fully rendered outbound mail.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// Renderer maps (template key, payload) to a rendered message. Rendering is a
// pure function: no I/O, and missing or malformed payload fields degrade to
// typed defaults instead of failing.
type Renderer struct {
	appURL string
}

func NewRenderer(appURL string) *Renderer {
	return &Renderer{appURL: strings.TrimSpace(appURL)}
}

// Render builds the message for the given template key. Unknown template keys
// fall back to the generic subject.
func (r *Renderer) Render(templateKey string, payload map[string]any, recipientAddress string) Message {
	recipientName := asString(payload["recipientName"], defaultRecipientName)
	ticketID := asString(payload["ticketId"], defaultTicketID)
	subject := asString(payload["subject"], defaultSubject)
	ticketURL := asString(payload["ticketUrl"], r.appURL)
	actionLabel := asString(payload["actionLabel"], defaultActionLabel)

	var mailSubject string
	switch templateKey {
	case KeyUserRegistered:
		mailSubject = "[Helpdesk] 註冊成功通知"
	case KeyTicketCreated:
		mailSubject = fmt.Sprintf("[Helpdesk] 工單 #%s 已建立", ticketID)
	case KeyTicketReplied:
		mailSubject = fmt.Sprintf("[Helpdesk] 工單 #%s 有新回覆", ticketID)
	case KeyTicketClosed:
		mailSubject = fmt.Sprintf("[Helpdesk] 工單 #%s 已完成", ticketID)
	case KeyTicketUrgentSupervisorRequired:
		mailSubject = fmt.Sprintf("[Helpdesk] 急件工單 #%s 待主管確認", ticketID)
	default:
		mailSubject = "[Helpdesk] 通知"
	}

	text := fmt.Sprintf(
		"%s 您好，\n\n%s\n工單編號：#%s\n主旨：%s\n連結：%s\n\nHelpdesk 系統通知\n",
		recipientName, actionLabel, ticketID, subject, ticketURL,
	)
	html := fmt.Sprintf(
		`<p>%s 您好，</p><p>%s</p><p>工單編號：<b>#%s</b><br/>主旨：%s<br/>連結：<a href="%s">查看工單</a></p><p>Helpdesk 系統通知</p>`,
		EscapeHTML(recipientName), EscapeHTML(actionLabel), EscapeHTML(ticketID), EscapeHTML(subject), EscapeHTML(ticketURL),
	)

	return Message{
		To:       recipientAddress,
		Subject:  mailSubject,
		HTMLBody: html,
		TextBody: text,
	}
}

// EscapeHTML escapes the five HTML metacharacters in an interpolated value.
// Kept as its own replacer so every interpolation goes through the same path.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

func asString(value any, fallback string) string {
	if value == nil {
		return fallback
	}

	var text string
	switch v := value.(type) {
	case string:
		text = v
	case fmt.Stringer:
		text = v.String()
	case float64:
		// JSON numbers decode as float64; render integers without a fraction.
		if v == float64(int64(v)) {
			text = fmt.Sprintf("%d", int64(v))
		} else {
			text = fmt.Sprintf("%v", v)
		}
	default:
		text = fmt.Sprintf("%v", v)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return fallback
	}
	return text
}
