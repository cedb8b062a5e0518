// verifyqr is the operator CLI for the verification core: emit a
// transport string for this device, decode a scanned one, or derive the
// short auth string for a fingerprint pair directly.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pgprooms/pgprooms/internal/keys"
	"github.com/pgprooms/pgprooms/internal/verify"
)

func main() {
	cmd := flag.String("cmd", "", "Command: show|scan|sas")
	fingerprint := flag.String("fpr", "", "Own key fingerprint (show/scan; show derives it from -key when empty)")
	userID := flag.String("user", "", "Account ID owning this device (show)")
	label := flag.String("label", "", "Human-readable device label (show)")
	keyFile := flag.String("key", "", "Path to armored public key file (show)")
	peer := flag.String("peer", "", "Peer fingerprint (sas)")
	flag.Parse()

	var err error
	switch *cmd {
	case "show":
		err = runShow(*fingerprint, *userID, *label, *keyFile)
	case "scan":
		err = runScan(*fingerprint, flag.Arg(0))
	case "sas":
		err = runSAS(*fingerprint, *peer)
	default:
		fmt.Fprintln(os.Stderr, "Usage: verifyqr -cmd show|scan|sas [flags] [transport-string]")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// runShow prints the transport string to render as a QR code.
func runShow(fingerprint, userID, label, keyFile string) error {
	if userID == "" || label == "" || keyFile == "" {
		return errors.New("-user, -label and -key are required")
	}
	armored, err := os.ReadFile(keyFile)
	if err != nil {
		return err
	}
	fpr := keys.CanonicalFingerprint(fingerprint)
	if fpr == "" {
		info, err := keys.ParseArmoredPublicKey(string(armored))
		if err != nil {
			return fmt.Errorf("%s: %w", keyFile, err)
		}
		fpr = info.Fingerprint
	}
	fmt.Println(verify.Encode(fpr, userID, label, string(armored)))
	return nil
}

// runScan decodes a transport string (argument or stdin) and prints the
// payload plus the SAS to compare against the peer's screen.
func runScan(localFingerprint, transport string) error {
	local := keys.CanonicalFingerprint(localFingerprint)
	if local == "" {
		return errors.New("-fpr is required for scan")
	}
	if transport == "" {
		// No argument: read one line from stdin (e.g. piped scanner output).
		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		if !sc.Scan() {
			return errors.New("no transport string on stdin")
		}
		transport = strings.TrimSpace(sc.Text())
	}

	p, err := verify.Decode(transport)
	switch {
	case errors.Is(err, verify.ErrNotAPayload):
		fmt.Println("No verification data found.")
		return nil
	case errors.Is(err, verify.ErrIncompletePayload):
		return fmt.Errorf("payload from an incompatible producer: %w", err)
	case err != nil:
		return fmt.Errorf("could not read code (try rescanning): %w", err)
	}

	remote := keys.CanonicalFingerprint(p.Fingerprint)
	fmt.Printf("User:        %s\n", p.UserID)
	fmt.Printf("Device:      %s\n", p.DeviceLabel)
	fmt.Printf("Fingerprint: %s\n", remote)
	fmt.Printf("Generated:   %s ago\n", p.Age(time.Now()).Round(time.Second))
	if ok, err := keys.FingerprintMatchesKey(p.Fingerprint, p.PublicKeyArmored); err != nil {
		fmt.Println("Key check:   skipped (embedded key not parseable)")
	} else if ok {
		fmt.Println("Key check:   fingerprint matches embedded key")
	} else {
		fmt.Println("Key check:   WARNING - fingerprint does not match embedded key")
	}
	fmt.Printf("\nCompare on both screens: %s\n", verify.DeriveShortAuthString(local, remote))
	return nil
}

// runSAS derives the comparison code for two fingerprints directly.
func runSAS(a, b string) error {
	if a == "" || b == "" {
		return errors.New("-fpr and -peer are required for sas")
	}
	fmt.Println(verify.DeriveShortAuthString(
		keys.CanonicalFingerprint(a),
		keys.CanonicalFingerprint(b)))
	return nil
}
