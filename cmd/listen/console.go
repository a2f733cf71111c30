package listen

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/readerline/notifyengine/internal/engine"
	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/notification"
	"github.com/readerline/notifyengine/internal/realtime"
)

// controller is the part of *engine.Engine the console drives.
type controller interface {
	Snapshot() engine.Snapshot
	UnreadCount() int
	VisibleToasts() []notification.ToastView
	ConnectionState() realtime.State
	MarkAsRead(id string) error
	MarkAllAsRead() error
	DeleteNotification(id string) error
	DeleteAllNotifications() error
	DismissToast(id string) bool
	HoverToast(id string) bool
	UnhoverToast(id string) bool
	ActivateToast(id string) bool
	Reconnect() error
	Subscribe() (<-chan engine.Change, context.Context)
	Unsubscribe(ch <-chan engine.Change)
}

const helpText = `Commands:
  list [unread]    show notifications grouped by day
  read <id>        mark a notification as read
  read-all         mark every notification as read
  delete <id>      delete a notification
  clear            delete every notification
  toasts           show visible toasts
  dismiss <id>     dismiss a toast
  hover <id>       pause a toast's countdown
  unhover <id>     resume a toast's countdown
  open <id>        activate a toast (marks its notification read)
  retry            reconnect after the connection failed
  log <module> <level>
                   change a module's log level ("default" for all)
  help             show this help
  quit             exit
`

// console renders engine changes as text and executes typed commands.
type console struct {
	eng   controller
	loc   *time.Location
	title cases.Caser

	// setLevel changes log levels at runtime; nil disables the log command
	setLevel func(module string, level logger.LogLevel)

	mu         sync.Mutex
	out        io.Writer
	shown      map[string]struct{}
	lastState  realtime.State
	lastUnread int
}

func newConsole(eng controller, out io.Writer, loc *time.Location) *console {
	if loc == nil {
		loc = time.Local
	}
	return &console{
		eng:        eng,
		loc:        loc,
		title:      cases.Title(language.English),
		out:        out,
		shown:      make(map[string]struct{}),
		lastState:  realtime.StateDisconnected,
		lastUnread: -1,
	}
}

// watch renders changes until ctx is done or the engine stops.
func (c *console) watch(ctx context.Context) {
	changes, stopped := c.eng.Subscribe()
	defer c.eng.Unsubscribe(changes)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopped.Done():
			return
		case change := <-changes:
			c.render(change.Kind)
		}
	}
}

func (c *console) render(kind engine.ChangeKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch kind {
	case engine.ChangeToasts:
		views := c.eng.VisibleToasts()
		current := make(map[string]struct{}, len(views))
		for i := range views {
			v := &views[i]
			current[v.ID] = struct{}{}
			if _, seen := c.shown[v.ID]; !seen {
				c.printToast(v)
			}
		}
		c.shown = current
	case engine.ChangeConnection:
		state := c.eng.ConnectionState()
		if state == c.lastState {
			return
		}
		c.lastState = state
		fmt.Fprintf(c.out, "-- connection %s\n", state)
		if state == realtime.StateFailed {
			fmt.Fprintln(c.out, `-- type "retry" to reconnect`)
		}
	case engine.ChangeNotifications:
		unread := c.eng.UnreadCount()
		if unread == c.lastUnread {
			return
		}
		c.lastUnread = unread
		fmt.Fprintf(c.out, "-- %d unread\n", unread)
	case engine.ChangePreferences:
		fmt.Fprintln(c.out, "-- preferences updated")
	}
}

func (c *console) printToast(v *notification.ToastView) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", toastMarker(v.Type))
	if v.Title != "" {
		b.WriteString(v.Title)
		b.WriteString(": ")
	}
	b.WriteString(v.Message)
	if v.Action != nil && v.Action.Label != "" {
		fmt.Fprintf(&b, " <%s>", v.Action.Label)
	}
	if v.IsPersistent() {
		fmt.Fprintf(&b, "  (%s)", v.ID)
	} else {
		fmt.Fprintf(&b, "  (%s, %s)", v.ID, v.Remaining.Round(time.Second))
	}
	fmt.Fprintln(c.out, b.String())
}

func toastMarker(t notification.ToastType) string {
	switch t {
	case notification.ToastTypeSuccess:
		return "ok"
	case notification.ToastTypeError:
		return "error"
	case notification.ToastTypeWarning:
		return "warn"
	default:
		return "info"
	}
}

// categoryLabel turns session_reminder into "Session Reminder".
func (c *console) categoryLabel(cat notification.Category) string {
	return c.title.String(strings.ReplaceAll(string(cat), "_", " "))
}

// run reads commands from in until quit, EOF or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	// Not tracked: a blocked read on stdin cannot be interrupted.
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if c.execute(line) {
				return
			}
		}
	}
}

// execute runs one command line and reports whether the console should exit.
func (c *console) execute(line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	name, args := strings.ToLower(fields[0]), fields[1:]
	if needsID(name) && len(args) != 1 {
		fmt.Fprintf(c.out, "usage: %s <id>\n", name)
		return false
	}

	var err error
	switch name {
	case "quit", "exit":
		return true
	case "help", "?":
		fmt.Fprint(c.out, helpText)
	case "list", "ls":
		c.list(len(args) > 0 && args[0] == "unread")
	case "toasts":
		c.listToasts()
	case "read":
		err = c.eng.MarkAsRead(args[0])
	case "read-all":
		err = c.eng.MarkAllAsRead()
	case "delete", "rm":
		err = c.eng.DeleteNotification(args[0])
	case "clear":
		err = c.eng.DeleteAllNotifications()
	case "dismiss":
		c.reportToast(c.eng.DismissToast(args[0]), args[0])
	case "hover":
		c.reportToast(c.eng.HoverToast(args[0]), args[0])
	case "unhover":
		c.reportToast(c.eng.UnhoverToast(args[0]), args[0])
	case "open":
		c.reportToast(c.eng.ActivateToast(args[0]), args[0])
	case "retry":
		err = c.eng.Reconnect()
	case "log":
		c.changeLogLevel(args)
	default:
		fmt.Fprintf(c.out, "unknown command %q, type \"help\"\n", name)
	}
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
	return false
}

func needsID(name string) bool {
	switch name {
	case "read", "delete", "rm", "dismiss", "hover", "unhover", "open":
		return true
	}
	return false
}

func (c *console) changeLogLevel(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "usage: log <module> <trace|debug|info|warn|error>")
		return
	}
	if c.setLevel == nil {
		fmt.Fprintln(c.out, "log levels cannot be changed here")
		return
	}
	level := logger.LogLevel(strings.ToLower(args[1]))
	switch level {
	case logger.LogLevelTrace, logger.LogLevelDebug, logger.LogLevelInfo, logger.LogLevelWarn, logger.LogLevelError:
	default:
		fmt.Fprintf(c.out, "unknown log level %q\n", args[1])
		return
	}
	module := args[0]
	if module == "default" {
		module = ""
	}
	c.setLevel(module, level)
	fmt.Fprintf(c.out, "log level of %s set to %s\n", args[0], level)
}

func (c *console) reportToast(ok bool, id string) {
	if !ok {
		fmt.Fprintf(c.out, "no visible toast %s\n", id)
	}
}

func (c *console) list(unreadOnly bool) {
	snap := c.eng.Snapshot()
	fmt.Fprintf(c.out, "%d notifications, %d unread\n", len(snap.Notifications), snap.UnreadCount)
	for _, group := range snap.Groups {
		printed := false
		for _, n := range group.Notifications {
			if unreadOnly && n.Read {
				continue
			}
			if !printed {
				fmt.Fprintf(c.out, "%s\n", group.Label)
				printed = true
			}
			c.printNotification(n)
		}
	}
}

func (c *console) printNotification(n *notification.Notification) {
	mark := " "
	if !n.Read {
		mark = "*"
	}
	urgency := ""
	if n.Priority.AtLeast(notification.PriorityHigh) {
		urgency = " !" + string(n.Priority)
	}
	fmt.Fprintf(c.out, " %s %s  %-16s %s%s  %s\n",
		mark,
		n.CreatedAt.In(c.loc).Format("15:04"),
		c.categoryLabel(n.Category),
		n.Title,
		urgency,
		n.ID)
	if n.Body != "" {
		fmt.Fprintf(c.out, "          %s\n", n.Body)
	}
}

func (c *console) listToasts() {
	views := c.eng.VisibleToasts()
	if len(views) == 0 {
		fmt.Fprintln(c.out, "no visible toasts")
		return
	}
	for i := range views {
		c.printToast(&views[i])
	}
}
