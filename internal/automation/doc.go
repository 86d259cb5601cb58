// Package automation runs scenarios in bulk: scripted batches loaded from
// yaml, and Monte Carlo ensembles over perturbed initial configurations.
package automation
