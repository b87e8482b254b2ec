package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"coursedump/pkg/config"
	"coursedump/pkg/credentials"
	"coursedump/pkg/ui"
)

var (
	sessionUserAgent string
	showGuide        bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored session cookies",
	Long: `The platform is crawled with the cookie of a logged-in browser session.
Sessions are stored per profile in the system keychain, falling back to an
encrypted file in the user data directory. The ` + credentials.EnvSessionCookie + `
environment variable is used when no stored session exists.`,
}

var sessionSetCmd = &cobra.Command{
	Use:   "set [profile]",
	Short: "Store the session cookie of a profile",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := credentials.NewManager(config.DataDir())
		if err != nil {
			ui.PrintError("Failed to initialize session store", err.Error())
			return err
		}

		name := profileArg(args)
		reader := bufio.NewReader(os.Stdin)

		if showGuide {
			printCookieGuide()
		}

		if existing, _ := manager.Retrieve(name); existing != nil && existing.Cookie != "" {
			fmt.Printf("Profile '%s' already has a session. Replace it? (y/N): ", name)
			input, _ := reader.ReadString('\n')
			if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
				return nil
			}
		}

		fmt.Print("Cookie header (hidden as you type): ")
		cookie, err := readSecret(reader)
		if err != nil {
			ui.PrintError("Failed to read cookie", err.Error())
			return err
		}
		fmt.Println()

		session := &credentials.Session{
			Profile:   name,
			Cookie:    cookie,
			UserAgent: sessionUserAgent,
		}
		if err := manager.Store(session); err != nil {
			ui.PrintError("Failed to store session", err.Error())
			return err
		}

		ui.PrintSuccess("Session stored for profile " + name)
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [profile]",
	Short: "Print the stored session of a profile with masked values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := credentials.NewManager(config.DataDir())
		if err != nil {
			ui.PrintError("Failed to initialize session store", err.Error())
			return err
		}

		session, err := manager.Retrieve(profileArg(args))
		if err != nil {
			ui.PrintError("Session not found", err.Error())
			return err
		}
		printSession(credentials.Sanitize(session))
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := credentials.NewManager(config.DataDir())
		if err != nil {
			ui.PrintError("Failed to initialize session store", err.Error())
			return err
		}

		sessions, err := manager.List()
		if err != nil {
			ui.PrintError("Failed to list sessions", err.Error())
			return err
		}
		if len(sessions) == 0 {
			ui.PrintInfo("No stored sessions", "Use 'coursedump session set' to add one")
			return nil
		}

		ui.PrintHighlight("Stored Sessions")
		fmt.Println()
		for _, s := range sessions {
			printSession(credentials.Sanitize(s))
			fmt.Println()
		}
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete [profile]",
	Short: "Remove the stored session of a profile",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := credentials.NewManager(config.DataDir())
		if err != nil {
			ui.PrintError("Failed to initialize session store", err.Error())
			return err
		}

		name := profileArg(args)
		if err := manager.Delete(name); err != nil {
			ui.PrintError("Failed to delete session", err.Error())
			return err
		}
		ui.PrintSuccess("Session removed: " + name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionSetCmd, sessionShowCmd, sessionListCmd, sessionDeleteCmd)

	sessionSetCmd.Flags().StringVar(&sessionUserAgent, "user-agent", "", "user agent of the browser the cookie was taken from")
	sessionSetCmd.Flags().BoolVar(&showGuide, "guide", false, "explain how to copy the cookie from a browser first")
}

// profileArg picks the profile from the argument, then --profile, then "default"
func profileArg(args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}
	if profile != "" {
		return profile
	}
	return "default"
}

// readSecret reads a line without echo on a terminal, or a plain line from a pipe
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}

	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printSession(s *credentials.Session) {
	fmt.Printf("Profile: %s\n", s.Profile)
	fmt.Printf("   Cookie: %s\n", s.Cookie)
	if s.UserAgent != "" {
		fmt.Printf("   User Agent: %s\n", s.UserAgent)
	}
	if !s.LastModified.IsZero() {
		fmt.Printf("   Last Modified: %s\n", s.LastModified.Format("2006-01-02 15:04:05"))
	}
}

func printCookieGuide() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("COPYING THE SESSION COOKIE")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println()
	fmt.Println("STEP 1: Log in to the platform in your browser and open any course page.")
	fmt.Println()
	fmt.Println("STEP 2: Open Developer Tools")
	fmt.Println("   • Chrome/Edge/Brave: F12 or Ctrl+Shift+I (Cmd+Option+I on Mac)")
	fmt.Println("   • Firefox: F12 or Ctrl+Shift+I (Cmd+Option+I on Mac)")
	fmt.Println("   • Safari: enable the Develop menu in Preferences, then Cmd+Option+I")
	fmt.Println()
	fmt.Println("STEP 3: In the Network tab, reload the page and click the first request.")
	fmt.Println()
	fmt.Println("STEP 4: Under Request Headers, copy the whole value of the 'Cookie:' line.")
	fmt.Println("   Pasting the line including 'Cookie:' works too.")
	fmt.Println()
	fmt.Println("TIPS:")
	fmt.Println("   • Sessions expire; run this command again when crawls stop with access denied")
	fmt.Println("   • The cookie gives full access to your account, never share it")
	fmt.Println()
}
