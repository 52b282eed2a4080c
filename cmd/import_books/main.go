package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"school-library/library"
)

func main() {
	var dbPath, librarian string
	cmd := &cobra.Command{
		Use:          "import_books <dir>",
		Short:        "Import every CSV catalogue file in a directory",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, dbPath, librarian, args[0])
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "library.db", "path to the SQLite database")
	cmd.Flags().StringVar(&librarian, "librarian", "", "librarian login id")
	_ = cmd.MarkFlagRequired("librarian")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, dbPath, librarian, booksDir string) error {
	ctx := cmd.Context()
	manager, err := library.NewLibraryManager(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer manager.Close()

	password := os.Getenv("LIBRARY_PASSWORD")
	if password == "" {
		fmt.Fprintf(os.Stderr, "Password for %s: ", librarian)
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimSpace(string(b))
	}
	p, err := manager.Authenticate(ctx, librarian, password)
	if err != nil {
		return err
	}

	files, err := os.ReadDir(booksDir)
	if err != nil {
		return fmt.Errorf("reading books directory: %w", err)
	}
	fmt.Printf("Importing books from %s directory...\n", booksDir)

	successCount, errorCount := 0, 0
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".csv") {
			continue
		}
		fmt.Printf("Importing: %s... ", file.Name())
		n, err := importFile(cmd, manager, p, filepath.Join(booksDir, file.Name()))
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}
		fmt.Printf("SUCCESS (%d books)\n", n)
		successCount += n
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", successCount)
	fmt.Printf("Files with errors: %d\n", errorCount)

	if successCount > 0 {
		books, err := manager.SearchBooks(ctx, library.BookQuery{})
		if err != nil {
			return fmt.Errorf("retrieving books: %w", err)
		}
		fmt.Println("\nCatalogue:")
		fmt.Printf("%-5s %-45s %-30s %-10s\n", "ID", "Title", "Author", "Shelf")
		fmt.Println(strings.Repeat("-", 93))
		for _, book := range books {
			fmt.Printf("%-5d %-45s %-30s %-10s\n", book.ID, truncateString(book.Title, 45),
				truncateString(book.Author, 30), truncateString(book.ShelfLocation, 10))
		}
	}
	return nil
}

// importFile loads one CSV file; a bad row rejects the whole file.
func importFile(cmd *cobra.Command, manager *library.LibraryManager, p library.Principal, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return manager.ImportBooks(cmd.Context(), p, f)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
