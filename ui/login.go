package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// loginPage is the credential form with an inline, transient error line.
type loginPage struct {
	root    *tview.Flex
	form    *tview.Form
	user    *tview.InputField
	pass    *tview.InputField
	message *tview.TextView
}

func newLoginPage(onSubmit func(username, password string)) *loginPage {
	p := &loginPage{
		message: tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignCenter),
		user:    tview.NewInputField().SetLabel("Username ").SetFieldWidth(24),
		pass:    tview.NewInputField().SetLabel("Password ").SetFieldWidth(24).SetMaskCharacter('*'),
	}
	// Editing either field dismisses the last error.
	clearMessage := func(string) { p.message.SetText("") }
	p.user.SetChangedFunc(clearMessage)
	p.pass.SetChangedFunc(clearMessage)

	submit := func() { onSubmit(p.user.GetText(), p.pass.GetText()) }
	p.pass.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			submit()
		}
	})
	p.form = tview.NewForm().
		AddFormItem(p.user).
		AddFormItem(p.pass).
		AddButton("Login", submit)
	p.form.SetBorder(true).
		SetTitle(accentText("Seismic Dashboard Login")).
		SetTitleAlign(tview.AlignLeft).
		SetBorderColor(uiBorderColor)

	box := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(p.form, 9, 0, true).
		AddItem(p.message, 1, 0, false)
	p.root = tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(box, 10, 0, true).
			AddItem(nil, 0, 1, false), 44, 0, true).
		AddItem(nil, 0, 1, false)
	return p
}

// invalidLoginText is shown for any rejected username/password pair.
const invalidLoginText = "Invalid username or password"

func (p *loginPage) showError(msg string) {
	p.message.SetText("[red]" + tview.Escape(msg) + "[-]")
}

// errorText returns the visible error line without color tags.
func (p *loginPage) errorText() string {
	return p.message.GetText(true)
}

func (p *loginPage) reset() {
	p.user.SetText("")
	p.pass.SetText("")
	p.message.SetText("")
}
