package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"school-library/library"
)

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %s", what, s)
	}
	return id, nil
}

// newUserFlags binds the account fields shared by setup and user add.
func newUserFlags(cmd *cobra.Command, u *library.NewUser) {
	cmd.Flags().StringVar(&u.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&u.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&u.Email, "email", "", "e-mail address for notifications")
	cmd.Flags().StringVar(&u.IDNumber, "id-number", "", "IC or staff number")
	cmd.Flags().StringVar(&u.ClassOrDept, "class", "", "class (students) or department (staff)")
}

func newPassword(prompt string) (string, error) {
	if pw := os.Getenv("LIBRARY_NEW_PASSWORD"); pw != "" {
		return pw, nil
	}
	pw, err := readPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if pw != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return pw, nil
}

func (a *app) setupCmd() *cobra.Command {
	var u library.NewUser
	cmd := &cobra.Command{
		Use:   "setup <login id>",
		Short: "Create the first librarian account on an empty database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			pw, err := newPassword(fmt.Sprintf("Enter password for %s: ", args[0]))
			if err != nil {
				return err
			}
			u.LoginID, u.Password, u.Role = args[0], pw, library.RoleLibrarian
			id, err := a.lm.AddUser(cmd.Context(), library.Principal{}, u)
			if err != nil {
				return err
			}
			fmt.Printf("Created librarian '%s' with ID %d\n", u.LoginID, id)
			return nil
		},
	}
	newUserFlags(cmd, &u)
	return cmd
}

func (a *app) userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage accounts"}

	var u library.NewUser
	var role string
	add := &cobra.Command{
		Use:   "add <login id>",
		Short: "Add a student, staff or librarian account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			pw, err := newPassword(fmt.Sprintf("Enter password for %s: ", args[0]))
			if err != nil {
				return err
			}
			u.LoginID, u.Password, u.Role = args[0], pw, library.Role(role)
			id, err := a.lm.AddUser(cmd.Context(), a.p, u)
			if err != nil {
				return err
			}
			fmt.Printf("Added %s '%s' with ID %d\n", u.Role, u.LoginID, id)
			return nil
		},
	}
	add.Flags().StringVar(&role, "role", string(library.RoleStudent), "student, staff or librarian")
	newUserFlags(add, &u)

	var listRole string
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			users, err := a.lm.ListUsers(cmd.Context(), a.p, library.Role(listRole))
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Println("No users registered.")
				return nil
			}
			fmt.Printf("%-5s %-15s %-30s %-10s %-9s %-15s\n", "ID", "Login", "Name", "Role", "Status", "Class/Dept")
			fmt.Println(strings.Repeat("-", 90))
			for _, u := range users {
				fmt.Printf("%-5d %-15s %-30s %-10s %-9s %-15s\n", u.ID, truncateString(u.LoginID, 15),
					truncateString(u.FullName(), 30), u.Role, u.Status, truncateString(u.ClassOrDept, 15))
			}
			return nil
		},
	}
	list.Flags().StringVar(&listRole, "role", "", "only this role")

	setStatus := func(use string, status library.AccountStatus) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <login id>",
			Short: "Mark an account " + string(status),
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.session(cmd.Context()); err != nil {
					return err
				}
				id, err := a.userID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := a.lm.SetUserStatus(cmd.Context(), a.p, id, status); err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", args[0], status)
				return nil
			},
		}
	}

	passwd := &cobra.Command{
		Use:   "passwd",
		Short: "Change your own password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			current, err := readPassword("Current password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			next, err := newPassword("New password: ")
			if err != nil {
				return err
			}
			if err := a.lm.ChangePassword(cmd.Context(), a.p, current, next); err != nil {
				return err
			}
			fmt.Println("Password changed.")
			return nil
		},
	}

	cmd.AddCommand(add, list, setStatus("deactivate", library.AccountInactive), setStatus("activate", library.AccountActive), passwd)
	return cmd
}

func (a *app) bookCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "book", Short: "Manage the catalogue"}

	var nb library.NewBook
	add := &cobra.Command{
		Use:   "add <title> <author>",
		Short: "Catalogue a copy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			nb.Title, nb.Author = args[0], args[1]
			id, err := a.lm.AddBook(cmd.Context(), a.p, nb)
			if err != nil {
				return err
			}
			fmt.Printf("Added book ID %d\n", id)
			return nil
		},
	}
	add.Flags().StringVar(&nb.ISBN, "isbn", "", "ISBN")
	add.Flags().StringVar(&nb.Barcode, "barcode", "", "copy barcode")
	add.Flags().StringVar(&nb.Category, "category", "", "category")
	add.Flags().StringVar(&nb.ShelfLocation, "shelf", "", "shelf location")
	add.Flags().IntVar(&nb.PublicationYear, "year", 0, "publication year")

	var q library.BookQuery
	search := &cobra.Command{
		Use:   "search",
		Short: "Search the catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.open(); err != nil {
				return err
			}
			books, err := a.lm.SearchBooks(cmd.Context(), q)
			if err != nil {
				return err
			}
			if len(books) == 0 {
				fmt.Println("No books found.")
				return nil
			}
			printBooks(books)
			return nil
		},
	}
	search.Flags().StringVar(&q.Title, "title", "", "title contains")
	search.Flags().StringVar(&q.Author, "author", "", "author contains")
	search.Flags().StringVar(&q.ISBN, "isbn", "", "ISBN contains")
	search.Flags().StringVar(&q.Category, "category", "", "category contains")
	search.Flags().IntVar(&q.Year, "year", 0, "publication year")

	find := &cobra.Command{
		Use:   "find <barcode or isbn>",
		Short: "Look up a copy by barcode or ISBN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			b, err := a.lm.FindBookByCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printBooks([]*library.Book{b})
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status <book id> <available|maintenance|disposed>",
		Short: "Take a copy out of or back into circulation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book id")
			if err != nil {
				return err
			}
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			if err := a.lm.SetBookStatus(cmd.Context(), a.p, id, library.BookStatus(args[1])); err != nil {
				return err
			}
			fmt.Printf("Book %d is now %s\n", id, args[1])
			return nil
		},
	}

	imp := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import copies from a CSV file with a header row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			n, err := a.lm.ImportBooks(cmd.Context(), a.p, f)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d book(s)\n", n)
			return nil
		},
	}

	cmd.AddCommand(add, search, find, status, imp)
	return cmd
}

func printBooks(books []*library.Book) {
	fmt.Printf("%-5s %-30s %-25s %-12s %-10s %-12s\n", "ID", "Title", "Author", "Barcode", "Shelf", "Status")
	fmt.Println(strings.Repeat("-", 100))
	for _, b := range books {
		fmt.Printf("%-5d %-30s %-25s %-12s %-10s %-12s\n", b.ID, truncateString(b.Title, 30),
			truncateString(b.Author, 25), truncateString(b.Barcode, 12), truncateString(b.ShelfLocation, 10), b.Status)
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show circulation, reservation and fine statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.session(ctx); err != nil {
				return err
			}
			if !a.p.IsLibrarian() {
				d, err := a.lm.Dashboard(ctx, a.p)
				if err != nil {
					return err
				}
				fmt.Printf("Borrowed: %d (overdue %d)\n", d.Borrowed, d.Overdue)
				fmt.Printf("Reservations: %d active, %d ready for pickup\n", d.ActiveReservations, d.ReadyForPickup)
				fmt.Printf("Outstanding fines: RM %s\n", d.OutstandingFines)
				fmt.Printf("Unread notifications: %d\n", d.UnreadNotifications)
				return nil
			}
			circ, err := a.lm.CirculationStats(ctx, a.p)
			if err != nil {
				return err
			}
			res, err := a.lm.ReservationStats(ctx, a.p)
			if err != nil {
				return err
			}
			fines, err := a.lm.FineStats(ctx, a.p)
			if err != nil {
				return err
			}
			fmt.Printf("Loans:        %d borrowed, %d overdue, %d returned, %d lost (%d total)\n",
				circ.Borrowed, circ.Overdue, circ.Returned, circ.Lost, circ.Total)
			fmt.Printf("Reservations: %d active, %d ready, %d fulfilled, %d expired, %d cancelled (%d total)\n",
				res.Active, res.Ready, res.Fulfilled, res.Expired, res.Cancelled, res.Total)
			fmt.Printf("Fines:        %d unpaid (%d part-paid), %d paid, %d user(s) owing\n",
				fines.Unpaid, fines.Partial, fines.Paid, fines.UsersWithFines)
			fmt.Printf("Outstanding:  RM %s   Collected: RM %s\n", fines.Outstanding, fines.Collected)
			return nil
		},
	}
}
