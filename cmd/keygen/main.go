package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/google/uuid"
)

const keySize = 32

func main() {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
		os.Exit(1)
	}
	keyID := uuid.NewString()
	encoded := base64.StdEncoding.EncodeToString(key)

	fmt.Printf("Key ID: %s\n", keyID)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("  tickets:\n")
	fmt.Printf("    key_id: \"%s\"\n", keyID)
	fmt.Printf("    key: \"${TICKET_SIGNING_KEY}\"\n")
	fmt.Println("\nand this to your .env:")
	fmt.Printf("  TICKET_SIGNING_KEY=%s\n", encoded)
}
