// Command keygen prints three independent HMAC secrets for the access,
// refresh, and special token scopes, sized above auth.MinSecretBytes.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

const secretBytes = 48

func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func main() {
	access, err := generateSecret()
	if err != nil {
		fmt.Printf("failed to generate access secret: %v\n", err)
		os.Exit(1)
	}
	refresh, err := generateSecret()
	if err != nil {
		fmt.Printf("failed to generate refresh secret: %v\n", err)
		os.Exit(1)
	}
	special, err := generateSecret()
	if err != nil {
		fmt.Printf("failed to generate special secret: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("--- COPY BELOW TO .env.local ---")
	fmt.Printf("ACCESS_TOKEN_SECRET=%q\n", access)
	fmt.Printf("REFRESH_TOKEN_SECRET=%q\n", refresh)
	fmt.Printf("SPECIAL_TOKEN_SECRET=%q\n", special)
	fmt.Println("--------------------------------")
}
