package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

// Output управляет форматированием вывода CLI.
type Output struct {
	jsonMode bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output. Если jsonMode=true, данные выводятся в JSON.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

// NewOutputTo создаёт Output с заданными потоками.
func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{
		jsonMode: jsonMode,
		w:        w,
		errW:     errW,
	}
}

// Print выводит данные: таблицу или JSON в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит данные в виде таблицы через tabwriter.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	// Заголовки
	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	// Разделитель
	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	// Строки данных
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Text выводит текст как есть.
func (o *Output) Text(s string) {
	io.WriteString(o.w, s)
	if !strings.HasSuffix(s, "\n") {
		io.WriteString(o.w, "\n")
	}
}

// Section выводит заголовок блока. В JSON режиме ничего не выводит.
func (o *Output) Section(title string) {
	if o.jsonMode {
		return
	}
	fmt.Fprintln(o.w, color.New(color.Bold).Sprint(title))
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, color.GreenString("✓")+" "+msg)
}

// Warn выводит предупреждение в stderr.
func (o *Output) Warn(msg string) {
	fmt.Fprintln(o.errW, color.YellowString("!")+" "+msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, color.RedString("Error:")+" "+msg)
}

// statusAttr — цвет статуса задачи, исполнителя или серьёзности.
func statusAttr(status string) color.Attribute {
	switch status {
	case "completed", "available", "low":
		return color.FgGreen
	case "in_progress", "assigned", "busy", "under_review", "medium":
		return color.FgCyan
	case "blocked", "paused", "overloaded", "maintenance", "high":
		return color.FgYellow
	case "failed", "offline", "critical":
		return color.FgRed
	default:
		return color.Reset
	}
}

// colorize окрашивает статус, если вывод цветной.
func colorize(status string) string {
	if status == "" {
		return "-"
	}
	return color.New(statusAttr(status)).Sprint(status)
}
