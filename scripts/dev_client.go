// Command dev_client walks a local server through the PKCE flow.
//
//	go run ./scripts/dev_client.go                               # print an authorize URL
//	go run ./scripts/dev_client.go -code C -verifier V           # exchange a code
//	go run ./scripts/dev_client.go -refresh R                    # refresh a token
//	go run ./scripts/dev_client.go -hash my-secret               # bcrypt a client secret
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Authorization server base URL")
	clientID := flag.String("client-id", "LocalClient", "Client identifier")
	secret := flag.String("secret", "", "Client secret, for confidential clients")
	redirect := flag.String("redirect", "http://localhost:8081/", "Registered redirect URI")
	scope := flag.String("scope", "default-scope", "Requested scope")
	state := flag.String("state", "xyz", "State echoed back on the redirect")
	code := flag.String("code", "", "Authorization code to exchange")
	verifier := flag.String("verifier", "", "PKCE verifier printed by the first step")
	refresh := flag.String("refresh", "", "Refresh token to redeem")
	hash := flag.String("hash", "", "Print the bcrypt hash of this secret and exit")
	flag.Parse()

	if *hash != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(*hash), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal("Failed to hash secret:", err)
		}
		fmt.Println(string(hashed))
		return
	}

	conf := &oauth2.Config{
		ClientID:     *clientID,
		ClientSecret: *secret,
		RedirectURL:  *redirect,
		Scopes:       []string{*scope},
		Endpoint: oauth2.Endpoint{
			AuthURL:   *server + "/oauth/authorize",
			TokenURL:  *server + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case *refresh != "":
		token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: *refresh, Expiry: time.Unix(1, 0)}).Token()
		if err != nil {
			log.Fatal("Refresh failed:", err)
		}
		printToken(token)

	case *code != "":
		if *verifier == "" {
			log.Fatal("-verifier is required to exchange a code")
		}
		token, err := conf.Exchange(ctx, *code, oauth2.VerifierOption(*verifier))
		if err != nil {
			log.Fatal("Exchange failed:", err)
		}
		printToken(token)

	default:
		v := oauth2.GenerateVerifier()
		fmt.Println("Open this URL in a browser and accept:")
		fmt.Println()
		fmt.Println("  " + conf.AuthCodeURL(*state, oauth2.S256ChallengeOption(v)))
		fmt.Println()
		fmt.Println("Then exchange the code from the redirect:")
		fmt.Printf("  go run ./scripts/dev_client.go -code <code> -verifier %s\n", v)
	}
}

func printToken(token *oauth2.Token) {
	out := map[string]any{
		"access_token":  token.AccessToken,
		"token_type":    token.TokenType,
		"refresh_token": token.RefreshToken,
		"expiry":        token.Expiry.Format(time.RFC3339),
	}
	if scope, ok := token.Extra("scope").(string); ok {
		out["scope"] = scope
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal(err)
	}
}
