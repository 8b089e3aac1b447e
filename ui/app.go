// Package ui renders the terminal chat surface: the ranked contact list, the
// active conversation, and the connection status line.
package ui

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"schoolchat/chat"
	"schoolchat/models"
	"schoolchat/network"
)

// Colors
var (
	ColorBg      = tcell.NewRGBColor(16, 16, 32)
	ColorFg      = tcell.NewRGBColor(192, 192, 192)
	ColorBorder  = tcell.NewRGBColor(0, 160, 160)
	ColorTitle   = tcell.NewRGBColor(255, 255, 255)
	ColorOnline  = tcell.NewRGBColor(0, 255, 0)
	ColorPending = tcell.NewRGBColor(255, 255, 0)
)

// App is the terminal application shell around one chat session.
type App struct {
	app     *tview.Application
	session *chat.Session
	conn    *network.Conn

	running atomic.Bool

	mu       sync.Mutex
	contacts []models.Contact
	notice   string

	contactsList *tview.List
	chatView     *tview.TextView
	messageInput *tview.InputField
	statusBar    *tview.TextView

	tickerDone chan struct{}
}

// New creates the application shell. Call Run to start it.
func New(session *chat.Session, conn *network.Conn) *App {
	return &App{
		session:    session,
		conn:       conn,
		tickerDone: make(chan struct{}),
	}
}

// Run builds the screen, starts the session, and blocks until the user quits.
func (a *App) Run(ctx context.Context) error {
	a.app = tview.NewApplication()
	root := a.buildMainScreen()

	a.running.Store(true)
	a.startStatusTicker()

	go func() {
		if err := a.session.Start(ctx); err != nil {
			a.Notice("startup failed: " + err.Error())
			return
		}
		a.Refresh()
	}()

	err := a.app.SetRoot(root, true).EnableMouse(false).Run()
	a.running.Store(false)
	close(a.tickerDone)
	return err
}

// Refresh re-renders the contact list and conversation. Safe to call from any
// goroutine.
func (a *App) Refresh() {
	if !a.running.Load() {
		return
	}
	a.app.QueueUpdateDraw(func() {
		a.renderContacts()
		a.renderChat()
	})
}

// Notice shows a transient message in the status bar.
func (a *App) Notice(text string) {
	a.mu.Lock()
	a.notice = text
	a.mu.Unlock()

	if !a.running.Load() {
		return
	}
	a.app.QueueUpdateDraw(a.renderStatusBar)
}

func (a *App) buildMainScreen() tview.Primitive {
	a.contactsList = tview.NewList()
	a.contactsList.SetBorder(true)
	a.contactsList.SetBorderColor(ColorBorder)
	a.contactsList.SetBackgroundColor(ColorBg)
	a.contactsList.SetTitle(" Contacts ")
	a.contactsList.SetTitleColor(ColorTitle)
	a.contactsList.SetMainTextColor(ColorFg)
	a.contactsList.SetSecondaryTextColor(tcell.NewRGBColor(128, 128, 128))
	a.contactsList.SetSelectedFunc(a.onContactSelected)

	a.chatView = tview.NewTextView()
	a.chatView.SetBorder(true)
	a.chatView.SetBorderColor(ColorBorder)
	a.chatView.SetBackgroundColor(ColorBg)
	a.chatView.SetTitle(" Conversation ")
	a.chatView.SetTitleColor(ColorTitle)
	a.chatView.SetDynamicColors(true)
	a.chatView.SetScrollable(true)

	a.messageInput = tview.NewInputField()
	a.messageInput.SetLabel("Message: ")
	a.messageInput.SetFieldBackgroundColor(tcell.NewRGBColor(0, 0, 64))
	a.messageInput.SetBackgroundColor(ColorBg)
	a.messageInput.SetDoneFunc(a.onMessageSubmit)

	a.statusBar = tview.NewTextView()
	a.statusBar.SetBackgroundColor(tcell.NewRGBColor(0, 96, 96))
	a.statusBar.SetTextColor(ColorTitle)
	a.statusBar.SetDynamicColors(true)

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.chatView, 0, 1, false).
		AddItem(a.messageInput, 1, 0, false)

	columns := tview.NewFlex().
		AddItem(a.contactsList, 32, 0, true).
		AddItem(right, 0, 1, false)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(columns, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	layout.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyTab:
			a.toggleFocus()
			return nil
		case tcell.KeyEsc:
			a.app.Stop()
			return nil
		}
		return event
	})

	return layout
}

func (a *App) toggleFocus() {
	if a.app.GetFocus() == a.contactsList {
		a.app.SetFocus(a.messageInput)
	} else {
		a.app.SetFocus(a.contactsList)
	}
}
