package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"school-library/library"
)

const dateLayout = "2006-01-02"

// loanArgs splits "[login] <book id>"; the login defaults to the signed-in user.
func loanArgs(args []string) (string, string) {
	if len(args) == 2 {
		return args[0], args[1]
	}
	return "", args[0]
}

func (a *app) borrowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "borrow [login id] <book id>",
		Short: "Lend a copy",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			login, rawBook := loanArgs(args)
			bookID, err := parseID(rawBook, "book id")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.session(ctx); err != nil {
				return err
			}
			userID, err := a.userID(ctx, login)
			if err != nil {
				return err
			}
			res, err := a.lm.Borrow(ctx, a.p, userID, bookID)
			if err != nil {
				return err
			}
			fmt.Printf("Borrowed '%s' (loan %d), due %s\n", res.BookTitle, res.BorrowID, res.DueDate.Format(dateLayout))
			return nil
		},
	}
}

func (a *app) returnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "return [login id] <book id>",
		Short: "Return a borrowed copy",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			login, rawBook := loanArgs(args)
			bookID, err := parseID(rawBook, "book id")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.session(ctx); err != nil {
				return err
			}
			userID, err := a.userID(ctx, login)
			if err != nil {
				return err
			}
			res, err := a.lm.ReturnBook(ctx, a.p, userID, bookID)
			if err != nil {
				return err
			}
			fmt.Printf("Returned '%s' (loan %d)\n", res.BookTitle, res.BorrowID)
			if res.ReservationID != nil {
				fmt.Printf("Copy held for reservation %d (user %d)", *res.ReservationID, res.ReservedFor)
				if !res.Notified {
					fmt.Print("; notification could not be delivered")
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func (a *app) renewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "renew <loan id>",
		Short: "Extend a loan by another borrow period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "loan id")
			if err != nil {
				return err
			}
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			due, err := a.lm.Renew(cmd.Context(), a.p, id)
			if err != nil {
				return err
			}
			fmt.Printf("Loan %d renewed, now due %s\n", id, due.Format(dateLayout))
			return nil
		},
	}
}

func (a *app) lostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lost <loan id> <replacement cost>",
		Short: "Record a borrowed copy as lost and fine the borrower",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "loan id")
			if err != nil {
				return err
			}
			cost, err := library.ParseMoney(args[1])
			if err != nil {
				return err
			}
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			fine, err := a.lm.MarkLost(cmd.Context(), a.p, id, cost)
			if err != nil {
				return err
			}
			fmt.Printf("Loan %d marked lost; fine %d of RM %s issued\n", id, fine.ID, fine.FineAmount)
			return nil
		},
	}
}

func (a *app) loansCmd() *cobra.Command {
	var status, user, from, to string
	cmd := &cobra.Command{
		Use:   "loans",
		Short: "List loans with overdue figures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			f := library.BorrowFilter{Status: status}
			for _, d := range []struct {
				raw string
				dst **time.Time
			}{{from, &f.From}, {to, &f.To}} {
				if d.raw == "" {
					continue
				}
				t, err := time.Parse(dateLayout, d.raw)
				if err != nil {
					return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", d.raw)
				}
				*d.dst = &t
			}
			if err := a.session(ctx); err != nil {
				return err
			}
			if user != "" {
				id, err := a.userID(ctx, user)
				if err != nil {
					return err
				}
				f.UserID = id
			}
			loans, err := a.lm.ListBorrows(ctx, a.p, f)
			if err != nil {
				return err
			}
			if len(loans) == 0 {
				fmt.Println("No loans found.")
				return nil
			}
			fmt.Printf("%-5s %-25s %-15s %-10s %-10s %-9s %-5s %-8s\n", "ID", "Title", "Borrower", "Borrowed", "Due", "Status", "Days", "Fine")
			fmt.Println(strings.Repeat("-", 95))
			for _, l := range loans {
				fmt.Printf("%-5d %-25s %-15s %-10s %-10s %-9s %-5d %-8s\n", l.ID, truncateString(l.BookTitle, 25),
					truncateString(l.BorrowerLogin, 15), l.BorrowDate.Format(dateLayout), l.DueDate.Format(dateLayout),
					l.DisplayStatus, l.DaysOverdue, l.CalculatedFine)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "all, borrowed, returned, overdue or lost")
	cmd.Flags().StringVar(&user, "user", "", "only loans of this login id")
	cmd.Flags().StringVar(&from, "from", "", "borrowed on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "borrowed on or before (YYYY-MM-DD)")
	return cmd
}

func (a *app) reserveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reserve [login id] <book id>",
		Short: "Join the queue for a copy that is out",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			login, rawBook := loanArgs(args)
			bookID, err := parseID(rawBook, "book id")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.session(ctx); err != nil {
				return err
			}
			userID, err := a.userID(ctx, login)
			if err != nil {
				return err
			}
			r, err := a.lm.Reserve(ctx, a.p, userID, bookID)
			if err != nil {
				return err
			}
			fmt.Printf("Reservation %d created, queue position %d, expires %s\n",
				r.ID, r.QueuePosition, r.ExpiryDate.Format(dateLayout))
			return nil
		},
	}
}

func (a *app) reservationsCmd() *cobra.Command {
	var status, user string
	cmd := &cobra.Command{
		Use:   "reservations",
		Short: "List reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.session(ctx); err != nil {
				return err
			}
			f := library.ReservationFilter{Status: library.ReservationStatus(status)}
			if user != "" {
				id, err := a.userID(ctx, user)
				if err != nil {
					return err
				}
				f.UserID = id
			}
			rs, err := a.lm.ListReservations(ctx, a.p, f)
			if err != nil {
				return err
			}
			if len(rs) == 0 {
				fmt.Println("No reservations found.")
				return nil
			}
			fmt.Printf("%-5s %-25s %-15s %-5s %-10s %-10s %-16s\n", "ID", "Title", "Reserver", "Pos", "Expires", "Status", "Pickup by")
			fmt.Println(strings.Repeat("-", 95))
			for _, r := range rs {
				pickup := ""
				if r.ReadyForPickup() && r.SelfPickupDeadline != nil {
					pickup = r.SelfPickupDeadline.Local().Format("2006-01-02 15:04")
				}
				fmt.Printf("%-5d %-25s %-15s %-5d %-10s %-10s %-16s\n", r.ID, truncateString(r.BookTitle, 25),
					truncateString(r.ReserverLogin, 15), r.QueuePosition, r.ExpiryDate.Format(dateLayout),
					r.EffectiveStatus, pickup)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "active, fulfilled, expired or cancelled")
	cmd.Flags().StringVar(&user, "user", "", "only reservations of this login id")
	return cmd
}

func (a *app) fulfillCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "fulfill <reservation id> <book id>",
		Short: "Issue a held copy to its reserver",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resID, err := parseID(args[0], "reservation id")
			if err != nil {
				return err
			}
			bookID, err := parseID(args[1], "book id")
			if err != nil {
				return err
			}
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			res, err := a.lm.FulfillReservation(cmd.Context(), a.p, resID, bookID, days)
			if err != nil {
				return err
			}
			fmt.Printf("Issued '%s' (loan %d), due %s\n", res.BookTitle, res.BorrowID, res.DueDate.Format(dateLayout))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "borrow period in days (default from the borrowing rule)")
	return cmd
}

func (a *app) cancelReservationCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel-reservation <reservation id>",
		Short: "Cancel a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "reservation id")
			if err != nil {
				return err
			}
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			if err := a.lm.CancelReservation(cmd.Context(), a.p, id, reason); err != nil {
				return err
			}
			fmt.Printf("Reservation %d cancelled\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason shown to the reserver")
	return cmd
}
