package ui

import (
	"time"

	"schoolchat/network"
)

// startStatusTicker refreshes the status bar once a second so connection
// state changes show up without a dedicated callback.
func (a *App) startStatusTicker() {
	ticker := time.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !a.running.Load() {
					return
				}
				a.app.QueueUpdateDraw(a.renderStatusBar)
			case <-a.tickerDone:
				return
			}
		}
	}()
}

// renderStatusBar must run on the UI goroutine.
func (a *App) renderStatusBar() {
	status := "[gray]disconnected[-]"
	if a.conn != nil {
		switch a.conn.State() {
		case network.StateOpen:
			status = "[green]connected[-]"
		case network.StateConnecting:
			status = "[yellow]connecting…[-]"
		case network.StateFailed:
			status = "[red]reconnecting…[-]"
		case network.StateClosed:
			status = "[gray]closed[-]"
		}
	}

	a.mu.Lock()
	notice := a.notice
	a.mu.Unlock()

	text := " " + status
	if notice != "" {
		text += "  |  " + notice
	}
	a.statusBar.SetText(text)
}
