package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"schoolchat/models"
)

// renderChat must run on the UI goroutine.
func (a *App) renderChat() {
	peerID, active := a.session.ActivePeer()
	if !active {
		a.chatView.SetText("[gray]Select a contact to start chatting.[-]")
		return
	}

	for _, contact := range a.session.Contacts() {
		if contact.ID != peerID {
			continue
		}
		presence := "offline"
		if contact.Online {
			presence = "online"
		}
		a.chatView.SetTitle(fmt.Sprintf(" %s (%s) ", contact.DisplayName, presence))
		break
	}

	self := a.session.Self()
	var transcript strings.Builder

	for _, message := range a.session.Messages() {
		transcript.WriteString(formatMessage(self.ID, message))
		transcript.WriteByte('\n')
	}

	a.chatView.SetText(transcript.String())
	a.chatView.ScrollToEnd()
}

func formatMessage(selfID int64, message models.Message) string {
	who := "them"
	if message.SenderID == selfID {
		who = "me"
	}

	stamp := message.Timestamp.Local().Format("15:04")

	marker := ""
	switch message.State {
	case models.DeliveryOptimistic:
		marker = " [yellow]…[-]"
	case models.DeliveryConfirmed:
		if message.SenderID == selfID {
			marker = " [green]✓[-]"
		}
	}

	return fmt.Sprintf("[gray]%s[-] [::b]%s:[::-] %s%s", stamp, who, tview.Escape(message.Body), marker)
}

func (a *App) onMessageSubmit(key tcell.Key) {
	if key != tcell.KeyEnter {
		return
	}

	body := a.messageInput.GetText()
	if strings.TrimSpace(body) == "" {
		return
	}

	if err := a.session.SendMessage(body); err != nil {
		a.Notice("send failed: " + err.Error())
		return
	}

	a.messageInput.SetText("")
	a.renderChat()
}
