package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Me(ctx context.Context) error
	Status(ctx context.Context) error

	Track(ctx context.Context) error
	Untrack(ctx context.Context) error
	Nearby(ctx context.Context, args []string) error
	Where(ctx context.Context) error
	GPS(ctx context.Context, args []string) error

	Share(ctx context.Context, args []string) error
	Accept(ctx context.Context, args []string) error
	Reject(ctx context.Context, args []string) error
	Grants(ctx context.Context) error

	PlaceOrder(ctx context.Context, args []string) error
	UpdateOrder(ctx context.Context, args []string) error
	Orders(ctx context.Context) error
	Get(ctx context.Context, args []string) error
}

const (
	helpLoggedOut = "Available commands: register, login, status, gps [on|off], exit"
	helpLoggedIn  = "Available commands: me, status, track, untrack, where, nearby [radius], " +
		"share <userId> <minutes>, accept <roomId>, reject <roomId>, grants, gps [on|off], " +
		"order [id], orders, update status|payment <orderId> <userId> <status>, get <path>, logout, exit"
)

// runREPL starts a simple read–eval–print loop for the CraveCart CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a' with the remaining tokens as
// arguments. Unknown commands are reported back to the user. The loop exits
// on scanner EOF or when the user types "exit" or "quit".
//
// Errors returned by command handlers are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("cc %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn(helpLoggedIn)
			} else {
				printlnFn(helpLoggedOut)
			}

		case "register":
			err = a.Register(ctx)
		case "login":
			err = a.Login(ctx)
		case "logout":
			err = a.Logout(ctx)
		case "me":
			err = a.Me(ctx)
		case "status":
			err = a.Status(ctx)

		case "track":
			err = a.Track(ctx)
		case "untrack":
			err = a.Untrack(ctx)
		case "nearby":
			err = a.Nearby(ctx, args)
		case "where":
			err = a.Where(ctx)
		case "gps":
			err = a.GPS(ctx, args)

		case "share":
			err = a.Share(ctx, args)
		case "accept":
			err = a.Accept(ctx, args)
		case "reject":
			err = a.Reject(ctx, args)
		case "grants":
			err = a.Grants(ctx)

		case "order":
			err = a.PlaceOrder(ctx, args)
		case "update":
			err = a.UpdateOrder(ctx, args)
		case "orders":
			err = a.Orders(ctx)
		case "get":
			err = a.Get(ctx, args)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err)
		}
	}
}
