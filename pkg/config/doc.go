/*
Package config loads and saves the store configuration file.

A vaultfs store directory carries a vaultfs.yaml describing how its blocks
are stored: which backend holds them, which cipher seals them, and the
physical block size. The config is written once at store creation and read
on every open; changing the cipher or block size of an existing store
would make its blocks unreadable, so Load validates but never migrates.
*/
package config
