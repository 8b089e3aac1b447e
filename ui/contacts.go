package ui

import "fmt"

// renderContacts must run on the UI goroutine.
func (a *App) renderContacts() {
	ranked := a.session.Contacts()

	a.mu.Lock()
	a.contacts = ranked
	a.mu.Unlock()

	selected := a.contactsList.GetCurrentItem()
	a.contactsList.Clear()

	for _, contact := range ranked {
		marker := "○"
		if contact.Online {
			marker = "●"
		}
		main := fmt.Sprintf("%s %s", marker, contact.DisplayName)

		preview := contact.LastMessageText
		if preview == "" {
			preview = "no messages yet"
		} else if runes := []rune(preview); len(runes) > 28 {
			preview = string(runes[:28]) + "…"
		}

		a.contactsList.AddItem(main, preview, 0, nil)
	}

	if selected >= 0 && selected < a.contactsList.GetItemCount() {
		a.contactsList.SetCurrentItem(selected)
	}
}

func (a *App) onContactSelected(index int, mainText, secondaryText string, shortcut rune) {
	a.mu.Lock()
	if index < 0 || index >= len(a.contacts) {
		a.mu.Unlock()
		return
	}
	contact := a.contacts[index]
	a.mu.Unlock()

	if err := a.session.SelectPeer(contact.ID); err != nil {
		a.Notice(err.Error())
		return
	}

	a.app.SetFocus(a.messageInput)
	a.renderChat()
}
