/*
Package environment ensures the single shared bridge network every runner
container runs on exists for the lifetime of the control-plane process, and
removes it on shutdown.
*/
package environment
