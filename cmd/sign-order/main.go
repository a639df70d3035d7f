// cmd/sign-order is a developer utility: it generates a keypair, funds it
// with a throwaway note, builds a spot limit order against that note and
// signs it the way submit_limit_order expects (spec §4.3's "aggregate the
// notes' public keys by curve addition" rule, here with a single note so
// the aggregate is just the one owner key).
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/field"
)

func main() {
	fmt.Println("Generating new keypair...")
	kp, err := cryptoring.GenerateKeyPair()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Public key: (%s, %s)\n", kp.Pub.X.String(), kp.Pub.Y.String())
	fmt.Printf("Private key: %s (KEEP SECRET!)\n\n", kp.Priv.String())

	note := entities.Note{
		Index:    1,
		Address:  kp.Pub,
		Token:    1,
		Amount:   100_000_000,
		Blinding: field.FromUint64(42),
	}

	const marketID = 1
	order := entities.Order{
		OrderID:    marketID, // lower 32 bits carry the market id; the upper 32 bits (zero here) tell orders apart, and the book assigns none
		Side:       entities.Bid,
		Price:      50_000_000,
		Qty:        100_000_000,
		QtyLeft:    100_000_000,
		UserID:     "demo-user",
		Expiration: time.Time{}, // no expiry
		Kind:       entities.SpotBody,
		Spot: &entities.SpotOrderBody{
			NotesIn:  []entities.Note{note},
			FeeLimit: 10,
		},
		SubmittedAt: time.Time{},
	}

	fmt.Println("Order details:")
	fmt.Printf("  Market: %d\n", order.MarketID())
	fmt.Printf("  Side: %+d\n", order.Side)
	fmt.Printf("  Price: %d\n", order.Price)
	fmt.Printf("  Qty: %d\n", order.Qty)
	fmt.Printf("  Note: index=%d token=%d amount=%d\n\n", note.Index, note.Token, note.Amount)

	msg := order.SigningMessage()
	sig, err := cryptoring.Sign(kp, msg)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	order.Signature = sig

	fmt.Printf("Signature: R=(%s,%s) S=%s\n\n", sig.R.X.String(), sig.R.Y.String(), sig.S.String())

	orderJSON, err := json.MarshalIndent(order, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Signed order (JSON):")
	fmt.Println(string(orderJSON))
	fmt.Println()

	fmt.Println("Verifying signature...")
	valid := cryptoring.VerifyAggregate([]cryptoring.Point{note.Address}, msg, order.Signature)
	if !valid {
		fmt.Println("signature INVALID")
		os.Exit(1)
	}
	fmt.Println("signature valid")

	fmt.Println("\nTo submit this order:")
	fmt.Println("  POST http://localhost:8080/v1/submit_limit_order")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(orderJSON))
}
