package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	cl "clickstonks/internal/cli"
	"clickstonks/internal/game"
	"clickstonks/internal/market"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).Padding(0, 1)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#374151")).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

type watchKeys struct {
	Click key.Binding
	Buy   key.Binding
	Sell  key.Binding
	Quit  key.Binding
}

var keys = watchKeys{
	Click: key.NewBinding(key.WithKeys("c", " "), key.WithHelp("c", "click")),
	Buy:   key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "buy 1")),
	Sell:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sell 1")),
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type refreshMsg struct {
	stocks []market.Stock
	dash   game.Dashboard
	err    error
}

type actionMsg struct {
	status string
	err    error
}

type tickMsg time.Time

type watchModel struct {
	ctx    context.Context
	client *cl.Client
	token  string
	every  time.Duration

	table  table.Model
	stocks []market.Stock
	dash   game.Dashboard
	status string
	err    error
}

func newWatchModel(ctx context.Context, client *cl.Client, sess cl.Session, every time.Duration) *watchModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 4},
			{Title: "Name", Width: 18},
			{Title: "Price", Width: 12},
			{Title: "Change", Width: 9},
			{Title: "Available", Width: 12},
			{Title: "Held", Width: 8},
			{Title: "Event", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	return &watchModel{ctx: ctx, client: client, token: sess.Token(), every: every, table: t}
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Click):
			return m, m.click()
		case key.Matches(msg, keys.Buy):
			return m, m.trade(market.Buy)
		case key.Matches(msg, keys.Sell):
			return m, m.trade(market.Sell)
		}
	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())
	case refreshMsg:
		m.err = msg.err
		if msg.err == nil {
			m.stocks = msg.stocks
			m.dash = msg.dash
			m.table.SetRows(m.rows())
		}
		return m, nil
	case actionMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
		}
		return m, m.refresh()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *watchModel) View() string {
	p := m.dash.Player
	header := fmt.Sprintf("Balance %s   Net worth %s   Click %s",
		cl.FormatMoney(p.Money), cl.FormatMoney(m.dash.NetWorth), cl.FormatMoney(p.ClickPower))

	footer := statusStyle.Render(m.status)
	if m.err != nil {
		footer = errorStyle.Render(m.err.Error())
	}
	help := statusStyle.Render(fmt.Sprintf("%s  %s  %s  %s",
		helpText(keys.Click), helpText(keys.Buy), helpText(keys.Sell), helpText(keys.Quit)))

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("ClickStonks market"),
		header,
		panelStyle.Render(m.table.View()),
		footer,
		help,
	) + "\n"
}

func (m *watchModel) rows() []table.Row {
	held := make(map[market.StockID]uint64, len(m.dash.Positions))
	for _, pos := range m.dash.Positions {
		held[pos.StockID] = pos.Amount
	}
	rows := make([]table.Row, 0, len(m.stocks))
	for _, s := range m.stocks {
		event := "-"
		if s.Event != market.EventNone {
			event = string(s.Event)
		}
		rows = append(rows, table.Row{
			strconv.FormatUint(uint64(s.ID), 10),
			s.Name,
			cl.FormatMoney(s.PricePerShare),
			cl.FormatChange(s.LastPrice, s.PricePerShare),
			strconv.FormatUint(s.AvailableShares, 10),
			strconv.FormatUint(held[s.ID], 10),
			event,
		})
	}
	return rows
}

func (m *watchModel) selected() (market.StockID, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.stocks) {
		return 0, false
	}
	return m.stocks[i].ID, true
}

func (m *watchModel) tick() tea.Cmd {
	return tea.Tick(m.every, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *watchModel) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, requestTimeout)
		defer cancel()
		stocks, err := m.client.ListStocks(ctx, m.token)
		if err != nil {
			return refreshMsg{err: err}
		}
		dash, err := m.client.Dashboard(ctx, m.token)
		return refreshMsg{stocks: stocks, dash: dash, err: err}
	}
}

func (m *watchModel) click() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, requestTimeout)
		defer cancel()
		out, err := m.client.Click(ctx, m.token)
		return actionMsg{status: "+" + cl.FormatMoney(out.Earned), err: err}
	}
}

func (m *watchModel) trade(typ market.TxType) tea.Cmd {
	id, ok := m.selected()
	if !ok {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, requestTimeout)
		defer cancel()
		out, err := m.client.Trade(ctx, m.token, id, typ, 1)
		return actionMsg{
			status: fmt.Sprintf("%s 1 of #%d at %s (fee %s)", typ, id, cl.FormatMoney(out.PricePerShare), cl.FormatMoney(out.Fee)),
			err:    err,
		}
	}
}

func helpText(b key.Binding) string {
	h := b.Help()
	return h.Key + " " + h.Desc
}

func runWatch(ctx context.Context, client *cl.Client, sess cl.Session, every time.Duration) error {
	if every <= 0 {
		every = 2 * time.Second
	}
	_, err := tea.NewProgram(newWatchModel(ctx, client, sess, every), tea.WithContext(ctx)).Run()
	return err
}
