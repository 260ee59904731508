package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"pagesync.io/pagesync"
)

const PagesyncCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Pagesync control.

The default urls are:
    api_url: https://api.pagesync.io
    connect_url: wss://connect.pagesync.io/sync

Usage:
    pagesyncctl login [--api_url=<api_url>] --user_auth=<user_auth>
    pagesyncctl watch [--api_url=<api_url>] [--connect_url=<connect_url>] --jwt=<jwt>
        [--resource_type=<resource_type>]...
    pagesyncctl key-between [<before>] [<after>]

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --api_url=<api_url>
    --connect_url=<connect_url>
    --user_auth=<user_auth>
    --jwt=<jwt>                      Your session JWT.
    --resource_type=<resource_type>  Subscribe to all resources of this type.
                                     May be repeated. Defaults to document.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], PagesyncCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if keyBetween_, _ := opts.Bool("key-between"); keyBetween_ {
		keyBetween(opts)
	}
}

func apiUrl(opts docopt.Opts) string {
	if apiUrl_, err := opts.String("--api_url"); err == nil && apiUrl_ != "" {
		return apiUrl_
	}
	return "https://api.pagesync.io"
}

func connectUrl(opts docopt.Opts) string {
	if connectUrl_, err := opts.String("--connect_url"); err == nil && connectUrl_ != "" {
		return connectUrl_
	}
	return "wss://connect.pagesync.io/sync"
}

// log in and print the session jwt
func login(opts docopt.Opts) {
	userAuth, _ := opts.String("--user_auth")

	fmt.Print("Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		Err.Printf("Could not read password (%s).", err)
		return
	}

	api := pagesync.NewSyncApi(apiUrl(opts))
	result, err := api.AuthLoginSync(&pagesync.AuthLoginArgs{
		UserAuth: userAuth,
		Password: string(passwordBytes),
	})
	if err != nil {
		Err.Printf("Login error (%s).", err)
		return
	}
	if result.Error != nil {
		Err.Printf("Login error (%s).", result.Error.Message)
		return
	}

	Out.Printf("%s", result.ByJwt)
}

// connect, subscribe to wildcard types, and print events as they arrive
func watch(opts docopt.Opts) {
	jwt, _ := opts.String("--jwt")

	resourceTypes := []pagesync.ResourceType{}
	if resourceTypes_, ok := opts["--resource_type"].([]string); ok {
		for _, resourceType := range resourceTypes_ {
			resourceTypes = append(resourceTypes, pagesync.ResourceType(resourceType))
		}
	}
	if len(resourceTypes) == 0 {
		resourceTypes = []pagesync.ResourceType{pagesync.ResourceTypeDocument}
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auth := &pagesync.SessionAuth{
		ByJwt:      jwt,
		InstanceId: pagesync.NewId(),
		AppVersion: fmt.Sprintf("pagesyncctl %s", PagesyncCtlVersion),
	}
	if !auth.Complete() {
		Err.Printf("JWT is missing the user or workspace context.")
		return
	}

	engine := pagesync.NewSyncEngineWithDefaults(
		cancelCtx,
		apiUrl(opts),
		connectUrl(opts),
		auth,
	)
	defer engine.Close()

	// print every routed event instead of reconciling it
	for _, resourceType := range resourceTypes {
		engine.Router().Register(resourceType, func(event *pagesync.ResourceEvent) {
			eventJson, err := json.Marshal(event)
			if err != nil {
				return
			}
			Out.Printf("%s", eventJson)
		})
		if err := engine.Subscribe(resourceType, pagesync.SubscriptionAll); err != nil {
			Err.Printf("Subscribe error (%s).", err)
			return
		}
	}

	if _, err := engine.Connect(); err != nil {
		Err.Printf("Connect error (%s).", err)
		return
	}

	removeCallback := engine.AddStatusCallback(func(status pagesync.ConnectionStatus) {
		Err.Printf("status = %s", status)
	})
	defer removeCallback()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
}

func keyBetween(opts docopt.Opts) {
	before, _ := opts.String("<before>")
	after, _ := opts.String("<after>")

	key, err := pagesync.KeyBetween(before, after)
	if err != nil {
		Err.Printf("Key error (%s).", err)
		return
	}
	Out.Printf("%s", key)
}
