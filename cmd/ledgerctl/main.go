package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jchilcher/ledgr-desktop-sub004/internal/audit"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/auth"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/keys"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/ledger"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/platform"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/rekey"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/session"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/sharing"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/store"
)

type app struct {
	db       *store.SQLite
	sessions *session.Store
	deks     *keys.Manager
	sharing  *sharing.Service
	rekey    *rekey.Service
	audit    *audit.Log
}

func buildApp(dbPath string) (*app, error) {
	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	sessions := session.NewStore()
	auditLog := audit.New()
	log := logrus.WithField("component", "ledgerctl")
	deks := keys.NewManager(db, db, sessions)
	shr := sharing.New(db, db, sessions, auditLog, log)
	limiter := auth.NewUnlockLimiter(5, time.Minute, time.Hour)
	rk := rekey.New(rekey.Config{}, db, db, db, db, sessions, deks, shr, limiter, auditLog, log)
	return &app{db: db, sessions: sessions, deks: deks, sharing: shr, rekey: rk, audit: auditLog}, nil
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if err := platform.DisableCoreDumps(); err != nil {
		logrus.WithError(err).Warn("could not disable core dumps")
	}

	// ---- enable ----
	enableCmd := flag.NewFlagSet("enable", flag.ExitOnError)
	enableDB := enableCmd.String("db", "./ledger.db", "path to ledger database")
	enableUser := enableCmd.String("user", "", "user id")
	enablePass := enableCmd.String("pass", "", "password")

	// ---- passwd ----
	passwdCmd := flag.NewFlagSet("passwd", flag.ExitOnError)
	passwdDB := passwdCmd.String("db", "./ledger.db", "path to ledger database")
	passwdUser := passwdCmd.String("user", "", "user id")
	passwdOld := passwdCmd.String("old", "", "current password")
	passwdNew := passwdCmd.String("new", "", "new password")

	// ---- disable ----
	disableCmd := flag.NewFlagSet("disable", flag.ExitOnError)
	disableDB := disableCmd.String("db", "./ledger.db", "path to ledger database")
	disableUser := disableCmd.String("user", "", "user id")
	disablePass := disableCmd.String("pass", "", "password")

	// ---- add-account ----
	addAcctCmd := flag.NewFlagSet("add-account", flag.ExitOnError)
	addAcctDB := addAcctCmd.String("db", "./ledger.db", "path to ledger database")
	addAcctUser := addAcctCmd.String("user", "", "owner user id")
	addAcctPass := addAcctCmd.String("pass", "", "password (omit to store plaintext)")
	addAcctName := addAcctCmd.String("name", "", "account name")
	addAcctBalance := addAcctCmd.String("balance", "0", "balance in cents")
	addAcctNotes := addAcctCmd.String("notes", "", "notes")

	// ---- add-txn ----
	addTxnCmd := flag.NewFlagSet("add-txn", flag.ExitOnError)
	addTxnDB := addTxnCmd.String("db", "./ledger.db", "path to ledger database")
	addTxnUser := addTxnCmd.String("user", "", "owner user id")
	addTxnPass := addTxnCmd.String("pass", "", "password (omit to store plaintext)")
	addTxnAccount := addTxnCmd.String("account", "", "parent account id")
	addTxnPayee := addTxnCmd.String("payee", "", "payee")
	addTxnAmount := addTxnCmd.String("amount", "0", "amount in cents")

	// ---- show ----
	showCmd := flag.NewFlagSet("show", flag.ExitOnError)
	showDB := showCmd.String("db", "./ledger.db", "path to ledger database")
	showUser := showCmd.String("user", "", "requesting user id")
	showPass := showCmd.String("pass", "", "password (omit to see locked view)")

	// ---- share ----
	shareCmd := flag.NewFlagSet("share", flag.ExitOnError)
	shareDB := shareCmd.String("db", "./ledger.db", "path to ledger database")
	shareOwner := shareCmd.String("owner", "", "owner user id")
	sharePass := shareCmd.String("pass", "", "owner password")
	shareRecipient := shareCmd.String("recipient", "", "recipient user id")
	shareType := shareCmd.String("type", "account", "entity type")
	shareID := shareCmd.String("id", "", "entity id")
	shareCombine := shareCmd.Bool("combine", false, "allow combining into totals")
	shareReport := shareCmd.Bool("report", false, "allow including in reports")

	// ---- revoke ----
	revokeCmd := flag.NewFlagSet("revoke", flag.ExitOnError)
	revokeDB := revokeCmd.String("db", "./ledger.db", "path to ledger database")
	revokeShare := revokeCmd.String("share", "", "share id")

	// ---- default ----
	defaultCmd := flag.NewFlagSet("default", flag.ExitOnError)
	defaultDB := defaultCmd.String("db", "./ledger.db", "path to ledger database")
	defaultOwner := defaultCmd.String("owner", "", "owner user id")
	defaultRecipient := defaultCmd.String("recipient", "", "recipient user id")
	defaultType := defaultCmd.String("type", "account", "entity type")

	if len(os.Args) < 2 {
		usage()
		return
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "enable":
		_ = enableCmd.Parse(os.Args[2:])
		a, err := buildApp(*enableDB)
		dieIf(err)
		dieIf(a.rekey.Enable(ctx, *enableUser, *enablePass))
		fmt.Println("encryption enabled")

	case "passwd":
		_ = passwdCmd.Parse(os.Args[2:])
		a, err := buildApp(*passwdDB)
		dieIf(err)
		dieIf(a.rekey.Unlock(ctx, *passwdUser, *passwdOld))
		dieIf(a.rekey.ChangePassword(ctx, *passwdUser, *passwdOld, *passwdNew))
		fmt.Println("password changed")

	case "disable":
		_ = disableCmd.Parse(os.Args[2:])
		a, err := buildApp(*disableDB)
		dieIf(err)
		dieIf(a.rekey.Disable(ctx, *disableUser, *disablePass))
		fmt.Println("encryption disabled, data restored to plaintext")

	case "add-account":
		_ = addAcctCmd.Parse(os.Args[2:])
		a, err := buildApp(*addAcctDB)
		dieIf(err)
		rec := &ledger.Record{
			ID:      uuid.NewString(),
			Type:    ledger.EntityAccount,
			OwnerID: *addAcctUser,
			Fields: map[string]string{
				"name":    *addAcctName,
				"balance": *addAcctBalance,
				"notes":   *addAcctNotes,
			},
		}
		dieIf(a.createRecord(ctx, rec, *addAcctPass))
		fmt.Println("account id:", rec.ID)

	case "add-txn":
		_ = addTxnCmd.Parse(os.Args[2:])
		a, err := buildApp(*addTxnDB)
		dieIf(err)
		rec := &ledger.Record{
			ID:        uuid.NewString(),
			Type:      ledger.EntityTransaction,
			OwnerID:   *addTxnUser,
			AccountID: *addTxnAccount,
			Fields: map[string]string{
				"payee":  *addTxnPayee,
				"amount": *addTxnAmount,
				"notes":  "",
			},
		}
		dieIf(a.createRecord(ctx, rec, *addTxnPass))
		fmt.Println("transaction id:", rec.ID)

	case "show":
		_ = showCmd.Parse(os.Args[2:])
		a, err := buildApp(*showDB)
		dieIf(err)
		if *showPass != "" {
			dieIf(a.rekey.Unlock(ctx, *showUser, *showPass))
		}
		recs, err := a.db.ListByOwner(ctx, *showUser)
		dieIf(err)
		out := ledger.DecryptList(recs, func(r *ledger.Record) (*[32]byte, error) {
			return a.deks.ResolveForRecord(ctx, r, *showUser)
		})
		for _, r := range out {
			state := "plaintext"
			if r.IsEncrypted {
				state = "locked"
			}
			fmt.Printf("%s %s [%s] %v\n", r.Type, r.ID, state, r.Fields)
		}

	case "share":
		_ = shareCmd.Parse(os.Args[2:])
		a, err := buildApp(*shareDB)
		dieIf(err)
		dieIf(a.rekey.Unlock(ctx, *shareOwner, *sharePass))
		sh, err := a.sharing.CreateShare(ctx, ledger.EntityType(*shareType), *shareID,
			*shareOwner, *shareRecipient, store.Permissions{
				CanView:    true,
				CanCombine: *shareCombine,
				CanReport:  *shareReport,
			})
		dieIf(err)
		fmt.Println("share id:", sh.ID)

	case "revoke":
		_ = revokeCmd.Parse(os.Args[2:])
		a, err := buildApp(*revokeDB)
		dieIf(err)
		dieIf(a.sharing.RevokeShare(ctx, *revokeShare))
		fmt.Println("share revoked")

	case "default":
		_ = defaultCmd.Parse(os.Args[2:])
		a, err := buildApp(*defaultDB)
		dieIf(err)
		dieIf(a.sharing.SetDefault(ctx, *defaultOwner, *defaultRecipient,
			ledger.EntityType(*defaultType), store.Permissions{CanView: true}))
		fmt.Println("blanket rule installed")

	default:
		usage()
	}
}

// createRecord persists a new record, encrypting it first when the owner can
// be unlocked. Without a password the record stays plaintext; encryption
// needs an active session.
func (a *app) createRecord(ctx context.Context, rec *ledger.Record, password string) error {
	if password != "" {
		if err := a.rekey.Unlock(ctx, rec.OwnerID, password); err != nil {
			return err
		}
	}
	keyType, keyID := rec.Type, rec.ID
	if rec.Type == ledger.EntityTransaction {
		keyType, keyID = ledger.EntityAccount, rec.AccountID
	}

	var dek *[32]byte
	var err error
	if rec.Type == ledger.EntityTransaction {
		dek, err = a.deks.ResolveForRead(ctx, keyType, keyID, rec.OwnerID, rec.OwnerID)
	} else if a.sessions.Has(rec.OwnerID) {
		dek, err = a.deks.CreateAndStore(ctx, keyType, keyID, rec.OwnerID)
	}
	if err != nil {
		return err
	}
	if dek == nil {
		return a.db.PutRecord(ctx, rec)
	}
	enc, err := ledger.EncryptFields(rec, *dek)
	if err != nil {
		return err
	}
	if err := a.db.PutRecord(ctx, enc); err != nil {
		return err
	}
	if rec.Type != ledger.EntityTransaction {
		if err := a.sharing.ApplyBlanketShares(ctx, rec.Type, rec.ID, rec.OwnerID, *dek); err != nil {
			return err
		}
	}
	return nil
}

func usage() {
	fmt.Println(`usage: ledgerctl <command> [flags]

commands:
  enable       turn on encryption for a user and migrate owned records
  passwd       change a user's password, re-wrapping every owned key
  disable      decrypt everything and remove all key material
  add-account  create an account (encrypted when -pass given)
  add-txn      create a transaction under an account
  show         list a user's records, decrypting what their keys allow
  share        grant another user access to one entity
  revoke       delete a share
  default      install a blanket sharing rule for future entities`)
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
