package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"school-library/library"
)

func (a *app) finesCmd() *cobra.Command {
	var user string
	var outstanding bool
	cmd := &cobra.Command{
		Use:   "fines",
		Short: "List fines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.session(ctx); err != nil {
				return err
			}
			var userID int64
			if user != "" {
				id, err := a.userID(ctx, user)
				if err != nil {
					return err
				}
				userID = id
			}
			fines, err := a.lm.ListFines(ctx, a.p, userID, outstanding)
			if err != nil {
				return err
			}
			if len(fines) == 0 {
				fmt.Println("No fines found.")
				return nil
			}
			fmt.Printf("%-5s %-6s %-25s %-10s %-10s %-10s %-7s %-25s\n", "ID", "User", "Title", "Amount", "Paid", "Balance", "Status", "Reason")
			fmt.Println(strings.Repeat("-", 105))
			var total library.Money
			for _, f := range fines {
				fmt.Printf("%-5d %-6d %-25s %-10s %-10s %-10s %-7s %-25s\n", f.ID, f.UserID, truncateString(f.BookTitle, 25),
					f.FineAmount, f.AmountPaid, f.BalanceDue, f.PaymentStatus, truncateString(f.FineReason, 25))
				if f.PaymentStatus == library.FineUnpaid {
					total += f.BalanceDue
				}
			}
			fmt.Printf("\nOutstanding: RM %s\n", total)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "only fines of this login id")
	cmd.Flags().BoolVar(&outstanding, "outstanding", false, "only unpaid fines")
	return cmd
}

func (a *app) assessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assess <loan id>",
		Short: "Record the overdue fine accrued on a loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "loan id")
			if err != nil {
				return err
			}
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			f, err := a.lm.AssessOverdueFine(cmd.Context(), a.p, id)
			if err != nil {
				return err
			}
			fmt.Printf("Fine %d of RM %s issued (%s)\n", f.ID, f.FineAmount, f.FineReason)
			return nil
		},
	}
}

// parseFineAmounts reads repeated --fine id=amount flags, keeping their order.
func parseFineAmounts(raw []string) ([]int64, map[int64]library.Money, error) {
	ids := make([]int64, 0, len(raw))
	amounts := make(map[int64]library.Money, len(raw))
	for _, r := range raw {
		k, v, found := strings.Cut(r, "=")
		if !found {
			return nil, nil, fmt.Errorf("invalid --fine %q, expected <fine id>=<amount>", r)
		}
		id, err := parseID(k, "fine id")
		if err != nil {
			return nil, nil, err
		}
		amt, err := library.ParseMoney(v)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := amounts[id]; dup {
			return nil, nil, fmt.Errorf("fine %d given twice", id)
		}
		ids = append(ids, id)
		amounts[id] = amt
	}
	return ids, amounts, nil
}

func (a *app) payCmd() *cobra.Command {
	var fines []string
	var cash string
	cmd := &cobra.Command{
		Use:   "pay <login id>",
		Short: "Take a cash payment against a user's fines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, amounts, err := parseFineAmounts(fines)
			if err != nil {
				return err
			}
			received, err := library.ParseMoney(cash)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.session(ctx); err != nil {
				return err
			}
			userID, err := a.userID(ctx, args[0])
			if err != nil {
				return err
			}
			rc, err := a.lm.ProcessPayment(ctx, a.p, library.PaymentRequest{
				UserID:       userID,
				FineIDs:      ids,
				Amounts:      amounts,
				CashReceived: received,
			})
			if err != nil {
				return err
			}
			printReceipt(rc)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&fines, "fine", nil, "<fine id>=<amount>, repeatable")
	cmd.Flags().StringVar(&cash, "cash", "", "cash received")
	_ = cmd.MarkFlagRequired("fine")
	_ = cmd.MarkFlagRequired("cash")
	return cmd
}

func printReceipt(rc *library.Receipt) {
	fmt.Printf("Receipt %s  %s\n", rc.Number, rc.TransactionDate.Local().Format("2006-01-02 15:04"))
	fmt.Println(strings.Repeat("-", 60))
	for _, l := range rc.Lines {
		fmt.Printf("  Fine %-5d %-25s RM %10s  (balance RM %s)\n", l.FineID, truncateString(l.BookTitle, 25), l.Amount, l.BalanceDue)
	}
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("  Total paid     RM %s\n", rc.TotalPaid)
	fmt.Printf("  Cash received  RM %s\n", rc.CashReceived)
	fmt.Printf("  Change         RM %s\n", rc.Change)
}

func (a *app) letterCmd() *cobra.Command {
	var kind string
	var fineIDs []int64
	cmd := &cobra.Command{
		Use:   "letter <login id>",
		Short: "Issue a fine letter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.session(ctx); err != nil {
				return err
			}
			userID, err := a.userID(ctx, args[0])
			if err != nil {
				return err
			}
			l, err := a.lm.GenerateLetter(ctx, a.p, library.LetterRequest{
				UserID:  userID,
				FineIDs: fineIDs,
				Type:    library.LetterType(kind),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Letter %s (RM %s)\n\n%s\n", l.Number, l.TotalAmount, l.Content)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "type", string(library.LetterWarning), "warning, final_notice or replacement_demand")
	cmd.Flags().Int64SliceVar(&fineIDs, "fine", nil, "fine ids to include")
	_ = cmd.MarkFlagRequired("fine")
	return cmd
}
